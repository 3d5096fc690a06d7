package authz

import (
	"context"
	"errors"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
)

// Caller is the authenticated identity behind a request or connection.
type Caller struct {
	ID   uint
	Role string
}

func CallerFrom(u models.User) Caller {
	return Caller{ID: u.ID, Role: u.Role}
}

// Resolver decides who may read and write a bus's location.
type Resolver struct {
	Dir store.Directory
}

func NewResolver(dir store.Directory) *Resolver {
	return &Resolver{Dir: dir}
}

// CanObserve returns the bus when caller may see its location and history.
func (r *Resolver) CanObserve(ctx context.Context, caller Caller, busID uint) (models.Bus, error) {
	bus, err := r.Dir.BusByID(ctx, busID)
	if err != nil {
		return models.Bus{}, apperr.FromContext(err)
	}
	ok, err := r.observable(ctx, caller, bus)
	if err != nil {
		return models.Bus{}, err
	}
	if !ok {
		return models.Bus{}, apperr.Forbidden("access denied")
	}
	return bus, nil
}

// CanIngest returns the bus when caller is the driver currently assigned to it.
func (r *Resolver) CanIngest(ctx context.Context, caller Caller, busID uint) (models.Bus, error) {
	if caller.Role != models.RoleDriver {
		return models.Bus{}, apperr.Forbidden("only drivers can report locations")
	}
	bus, err := r.Dir.BusByID(ctx, busID)
	if errors.Is(err, apperr.ErrNotFound) {
		// a driver learns nothing about buses it does not drive
		return models.Bus{}, apperr.Forbidden("you are not assigned to this bus")
	}
	if err != nil {
		return models.Bus{}, apperr.FromContext(err)
	}
	// for a driver the observation rule is exactly the assignment check
	ok, err := r.observable(ctx, caller, bus)
	if err != nil {
		return models.Bus{}, err
	}
	if !ok {
		return models.Bus{}, apperr.Forbidden("you are not assigned to this bus")
	}
	return bus, nil
}

// observable is the single visibility predicate shared by reads and writes.
func (r *Resolver) observable(ctx context.Context, caller Caller, bus models.Bus) (bool, error) {
	switch caller.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RoleDriver:
		return bus.AssignedTo(caller.ID), nil
	case models.RoleParent:
		ok, err := r.Dir.ParentHasStudentOnBus(ctx, caller.ID, bus.ID)
		if err != nil {
			return false, apperr.FromContext(err)
		}
		return ok, nil
	default:
		return false, nil
	}
}
