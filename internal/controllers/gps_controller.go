package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/bustrack/internal/store"
	"github.com/zaqqye/bustrack/internal/tracking"
)

type GPSController struct {
	Svc *tracking.Service
}

type locationRequest struct {
	BusID     uint     `json:"bus_id" binding:"required,gt=0"`
	Latitude  *float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"required,min=-180,max=180"`
	Speed     *float64 `json:"speed" binding:"omitempty,gte=0"`
}

// Report stores a driver's position and pushes it to the bus room.
func (g *GPSController) Report(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report := tracking.Report{
		BusID:     req.BusID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	}
	if req.Speed != nil {
		report.Speed = *req.Speed
	}

	loc, err := g.Svc.Ingest(c.Request.Context(), caller, report)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"location": loc})
}

func (g *GPSController) Latest(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	busID, ok := busIDParam(c, "busId")
	if !ok {
		return
	}
	loc, err := g.Svc.Latest(c.Request.Context(), caller, busID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

func (g *GPSController) History(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	busID, ok := busIDParam(c, "busId")
	if !ok {
		return
	}
	limit := store.DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	locs, err := g.Svc.History(c.Request.Context(), caller, busID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locs})
}

// ActiveBuses lists the latest position of every bus that has reported.
func (g *GPSController) ActiveBuses(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	buses, err := g.Svc.ActiveBuses(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeBuses": buses})
}
