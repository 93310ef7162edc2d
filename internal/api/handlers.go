package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openbmap/radiobeacon-core/internal/catalog"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

type sessionHandler struct {
	reader SessionReader
}

func newSessionHandler(reader SessionReader) *sessionHandler {
	return &sessionHandler{reader: reader}
}

// sessionResponse is a session in API responses.
type sessionResponse struct {
	ID          int64  `json:"id"`
	CreatedAt   string `json:"createdAt"`
	LastUpdated string `json:"lastUpdated"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
	Exported    bool   `json:"exported"`
	Wifis       int64  `json:"wifis"`
	Cells       int64  `json:"cells"`
	Waypoints   int64  `json:"waypoints"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// list serves GET /api/v1/sessions.
func (h *sessionHandler) list(c *gin.Context) {
	sessions, err := h.reader.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to retrieve sessions",
		})
		return
	}

	response := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		response[i] = sessionResponse{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt.Format(timeLayout),
			LastUpdated: s.LastUpdated.Format(timeLayout),
			Description: s.Description,
			IsActive:    s.IsActive,
			Exported:    s.Exported,
			Wifis:       s.WifiCount,
			Cells:       s.CellCount,
			Waypoints:   s.WaypointCount,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": response,
		"total":    len(response),
	})
}

// get serves GET /api/v1/sessions/:id.
func (h *sessionHandler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	s, err := h.reader.SessionByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to retrieve session",
		})
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt.Format(timeLayout),
		LastUpdated: s.LastUpdated.Format(timeLayout),
		Description: s.Description,
		IsActive:    s.IsActive,
		Exported:    s.Exported,
		Wifis:       s.WifiCount,
		Cells:       s.CellCount,
		Waypoints:   s.WaypointCount,
	})
}

// overviewEntry is one access point in the overview response.
type overviewEntry struct {
	BSSID     string  `json:"bssid"`
	SSID      string  `json:"ssid"`
	Level     int     `json:"level"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Status    string  `json:"status"`
}

// wifiOverview serves GET /api/v1/sessions/:id/wifis/overview with the
// strongest sighting per BSSID.
func (h *sessionHandler) wifiOverview(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	entries, err := h.reader.WifiOverview(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to retrieve wifi overview",
		})
		return
	}

	response := make([]overviewEntry, len(entries))
	for i, e := range entries {
		response[i] = overviewEntry{
			BSSID:     e.BSSID,
			SSID:      e.SSID,
			Level:     e.Level,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Status:    e.Status.String(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"wifis": response,
		"total": len(response),
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Session id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

type catalogHandler struct {
	catalog CatalogQuerier
}

func newCatalogHandler(cat CatalogQuerier) *catalogHandler {
	return &catalogHandler{catalog: cat}
}

// info serves GET /api/v1/catalog.
func (h *catalogHandler) info(c *gin.Context) {
	if h.catalog == nil || !h.catalog.Enabled() {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "size": 0})
		return
	}

	size, err := h.catalog.Size(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read catalog size",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "size": size})
}

// catalogPoint is one catalogued access point location.
type catalogPoint struct {
	BSSID     string  `json:"bssid,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// query serves GET /api/v1/catalog/query. The bounding box comes from
// minlat/minlon/maxlat/maxlon; grouped=1 collapses co-located points for
// low zoom levels.
func (h *catalogHandler) query(c *gin.Context) {
	if h.catalog == nil || !h.catalog.Enabled() {
		c.JSON(http.StatusOK, gin.H{"points": []catalogPoint{}, "total": 0})
		return
	}

	bbox, ok := parseBBox(c)
	if !ok {
		return
	}

	maxResults, _ := strconv.Atoi(c.DefaultQuery("max", "0"))
	grouped := c.DefaultQuery("grouped", "0") == "1"

	points, err := h.catalog.QueryBounds(c.Request.Context(), bbox, maxResults, grouped)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Catalog query failed",
		})
		return
	}

	response := make([]catalogPoint, len(points))
	for i, p := range points {
		response[i] = catalogPoint{BSSID: p.BSSID, Latitude: p.Latitude, Longitude: p.Longitude}
	}

	c.JSON(http.StatusOK, gin.H{
		"points": response,
		"total":  len(response),
	})
}

func parseBBox(c *gin.Context) (catalog.BoundingBox, bool) {
	var bbox catalog.BoundingBox
	var err error

	parse := func(name string, dst *float64) {
		if err != nil {
			return
		}
		*dst, err = strconv.ParseFloat(c.Query(name), 64)
	}
	parse("minlat", &bbox.MinLat)
	parse("minlon", &bbox.MinLon)
	parse("maxlat", &bbox.MaxLat)
	parse("maxlon", &bbox.MaxLon)

	if err != nil || bbox.MinLat > bbox.MaxLat || bbox.MinLon > bbox.MaxLon {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_bbox",
			"message": "minlat/minlon/maxlat/maxlon must form a valid bounding box",
		})
		return catalog.BoundingBox{}, false
	}
	return bbox, true
}
