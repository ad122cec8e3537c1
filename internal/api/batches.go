package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-nft-lending/internal/batch"
	"github.com/0gfoundation/0g-nft-lending/internal/sequencer"
)

// BatchPayload is a signed batch. With Async the batch is queued for the
// sequencer and the response carries a job id to poll.
type BatchPayload struct {
	Actions []batch.Action `json:"actions"`
	Async   bool           `json:"async"`
}

func (s *Server) handleBatch(c *gin.Context) {
	var p BatchPayload
	if !payload(c, &p) {
		return
	}
	if len(p.Actions) == 0 {
		badRequest(c, "empty batch")
		return
	}

	if p.Async {
		if s.Sequencer == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sequencer disabled"})
			return
		}
		id, err := s.Sequencer.Enqueue(c.Request.Context(), sender(c), p.Actions)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": sequencer.StatusQueued})
		return
	}

	res, err := s.Dispatcher.Cook(c.Request.Context(), sender(c), p.Actions)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleBatchResult(c *gin.Context) {
	if s.Sequencer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sequencer disabled"})
		return
	}
	r, err := s.Sequencer.Result(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sequencer.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}
	limit := int64(50)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	if limit > maxRecentEvents {
		limit = maxRecentEvents
	}
	evs, err := s.Events.Recent(c.Request.Context(), s.Pair.Address(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
