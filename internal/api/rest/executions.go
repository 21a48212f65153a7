package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/auth"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
	"github.com/KevinKickass/OpenLabCore/internal/types"
)

const defaultExecutionLimit = 50

// TransientInfo describes one live transient of an execution.
type TransientInfo struct {
	ID             uuid.UUID `json:"id"`
	SpectrumCount  int       `json:"spectrum_count"`
	Progress       float64   `json:"progress"`
	Frequencies    []float64 `json:"frequencies"`
	AxisMismatches int       `json:"axis_mismatches,omitempty"`
}

// GET /api/v1/executions?limit=n
func (s *Server) listExecutions(c *gin.Context) {
	limit := defaultExecutionLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("EXECUTION_400", "Invalid limit", v))
			return
		}
		limit = n
	}

	execs, err := s.lm.Store().ListExecutions(c.Request.Context(), limit)
	if err != nil {
		s.storeError(c, "EXECUTION", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

// GET /api/v1/executions/:id
func (s *Server) getExecution(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	exec, err := s.lm.Store().GetExecution(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "EXECUTION", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// GET /api/v1/executions/:id/events
func (s *Server) getExecutionEvents(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	events, err := s.lm.Store().GetExecutionEvents(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "EXECUTION", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GET /api/v1/executions/:id/log
// Plain text logbook of a running or recently finished execution.
func (s *Server) getExecutionLog(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	logbook, found := s.lm.Orchestrator().Logbook(id)
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("EXECUTION_404", "No logbook in memory", id.String()))
		return
	}

	var buf bytes.Buffer
	if _, err := logbook.WriteTo(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("EXECUTION_500", "Failed to render logbook", err.Error()))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// POST /api/v1/executions/:id/cancel
func (s *Server) cancelExecution(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}

	// Läuft es auf der Bank, geht der Abbruch über die Maschine
	var err error
	if s.lm.MachineController().GetStatus().ExecutionID == id.String() {
		err = s.lm.MachineController().Stop()
	} else {
		err = s.lm.Orchestrator().Cancel(id)
	}
	if err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("EXECUTION_409", "Execution is not running", err.Error()))
		return
	}

	s.logger.Info("Execution cancel requested",
		zap.String("execution_id", id.String()),
		zap.String("by", auth.GetUsername(c)))
	c.JSON(http.StatusAccepted, gin.H{"message": "execution cancelling"})
}

// GET /api/v1/executions/:id/spectra
// Metadata only; points are served per spectrum.
func (s *Server) listSpectra(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	spectra, err := s.lm.Store().ListSpectra(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "SPECTRUM", err)
		return
	}
	for _, sp := range spectra {
		sp.Points = nil
	}
	c.JSON(http.StatusOK, gin.H{"spectra": spectra, "count": len(spectra)})
}

func (s *Server) loadSpectrum(c *gin.Context) (uuid.UUID, int, measurement.Spectrum, *measurement.CSVMeta, bool) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return uuid.Nil, 0, nil, nil, false
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SPECTRUM_400", "Invalid seq", c.Param("seq")))
		return uuid.Nil, 0, nil, nil, false
	}

	stored, err := s.lm.Store().GetSpectrum(c.Request.Context(), id, seq)
	if err != nil {
		s.storeError(c, "SPECTRUM", err)
		return uuid.Nil, 0, nil, nil, false
	}

	var points measurement.Spectrum
	if err := json.Unmarshal(stored.Points, &points); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SPECTRUM_500", "Stored spectrum is unreadable", err.Error()))
		return uuid.Nil, 0, nil, nil, false
	}

	var meta *measurement.CSVMeta
	if stored.TransientID != nil {
		meta = &measurement.CSVMeta{Position: stored.Position, TimeDiff: stored.TimeDiff}
	}
	return id, seq, points, meta, true
}

// GET /api/v1/executions/:id/spectra/:seq
func (s *Server) getSpectrum(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SPECTRUM_400", "Invalid seq", c.Param("seq")))
		return
	}
	stored, err := s.lm.Store().GetSpectrum(c.Request.Context(), id, seq)
	if err != nil {
		s.storeError(c, "SPECTRUM", err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// GET /api/v1/executions/:id/spectra/:seq/csv[?polar=true]
func (s *Server) downloadSpectrumCSV(c *gin.Context) {
	id, seq, points, meta, ok := s.loadSpectrum(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := measurement.WriteCSV(&buf, points, meta, c.Query("polar") == "true"); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SPECTRUM_500", "Failed to write CSV", err.Error()))
		return
	}

	filename := fmt.Sprintf("%s_%03d.csv", id.String()[:8], seq)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func (s *Server) catalogue(c *gin.Context) (*transient.Catalogue, bool) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return nil, false
	}
	cat, found := s.lm.Orchestrator().Transients(id)
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TRANSIENT_404", "No transients in memory", id.String()))
		return nil, false
	}
	return cat, true
}

// GET /api/v1/executions/:id/transients
func (s *Server) listTransients(c *gin.Context) {
	cat, ok := s.catalogue(c)
	if !ok {
		return
	}

	list := cat.List()
	out := make([]TransientInfo, 0, len(list))
	for _, t := range list {
		out = append(out, TransientInfo{
			ID:             t.ID(),
			SpectrumCount:  t.SpectrumCount(),
			Progress:       t.Progress(),
			Frequencies:    t.Frequencies(),
			AxisMismatches: t.AxisMismatches(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"transients": out, "count": len(out)})
}

// GET /api/v1/executions/:id/transients/:handle?freq_index=n&x=time|point
func (s *Server) getTransientSeries(c *gin.Context) {
	cat, ok := s.catalogue(c)
	if !ok {
		return
	}
	handle, ok := parseID(c, "handle", "TRANSIENT_400")
	if !ok {
		return
	}
	t, found := cat.Get(handle)
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TRANSIENT_404", "Transient not found", handle.String()))
		return
	}

	freqIndex, err := strconv.Atoi(c.DefaultQuery("freq_index", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TRANSIENT_400", "Invalid freq_index", c.Query("freq_index")))
		return
	}
	mode := transient.XPoint
	switch c.DefaultQuery("x", "point") {
	case "point":
	case "time":
		mode = transient.XTimeDiff
	default:
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TRANSIENT_400", "x must be point or time", c.Query("x")))
		return
	}

	series := t.TransSpect(freqIndex, mode)
	resp := gin.H{
		"id":         handle,
		"freq_index": freqIndex,
		"x":          c.DefaultQuery("x", "point"),
		"points":     series,
	}
	if freqs := t.Frequencies(); freqIndex >= 0 && freqIndex < len(freqs) {
		resp["frequency"] = freqs[freqIndex]
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/executions/:id/archive/:name
func (s *Server) downloadArchived(c *gin.Context) {
	id, ok := parseID(c, "id", "EXECUTION_400")
	if !ok {
		return
	}
	archive := s.lm.Archive()
	if archive == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("ARCHIVE_503", "Archive is disabled", nil))
		return
	}

	name := path.Base(c.Param("name"))
	data, err := archive.Fetch(c.Request.Context(), archive.Key(id, name))
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("ARCHIVE_404", "Archived file not found", err.Error()))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv", data)
}
