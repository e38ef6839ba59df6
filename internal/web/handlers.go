package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vampirenirmal/quire/internal/session"
	"github.com/vampirenirmal/quire/internal/storage"
	qerrors "github.com/vampirenirmal/quire/pkg/quire/errors"
	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/story"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// stateResponse is the JSON view of a session.
type stateResponse struct {
	Session string         `json:"session"`
	Story   string         `json:"story"`
	Chapter string         `json:"chapter,omitempty"`
	Text    string         `json:"text,omitempty"`
	Inputs  []render.Field `json:"inputs,omitempty"`
	Sets    []render.Field `json:"sets,omitempty"`
	Navs    []render.Nav   `json:"navs,omitempty"`
	Ended   bool           `json:"ended"`
	Globals value.Scope    `json:"globals,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) handleIndex(c *gin.Context) {
	names, err := s.library.Names(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	html, err := renderIndex(names)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) handleListStories(c *gin.Context) {
	names, err := s.library.Names(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": names})
}

func (s *Server) handleListCheckpoints(c *gin.Context) {
	if s.checkpoints == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "checkpoints are disabled"})
		return
	}
	records, err := s.checkpoints.List(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*session.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": records})
}

// handleStart begins a session, or resumes one when the form names a saved
// session in its resume field.
func (s *Server) handleStart(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	var resume *story.Checkpoint
	if id := c.PostForm("resume"); id != "" {
		if s.checkpoints == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "checkpoints are disabled"})
			return
		}
		record, err := s.checkpoints.MarkAsResumed(ctx, id)
		if errors.Is(err, session.ErrNoCheckpoint) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			s.fail(c, http.StatusInternalServerError, err)
			return
		}
		if record.Story != name {
			c.JSON(http.StatusBadRequest, gin.H{"error": "checkpoint belongs to another story"})
			return
		}
		resume = &record.Checkpoint
	}

	ps, err := s.start(ctx, name, resume)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case qerrors.IsParseError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("Session started", "session", ps.id, "story", name, "resumed", resume != nil)
	c.Redirect(http.StatusSeeOther, "/sessions/"+ps.id)
}

func (s *Server) handleShow(c *gin.Context) {
	ps, ok := s.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	s.showPage(c, http.StatusOK, ps, "")
}

func (s *Server) handleState(c *gin.Context) {
	ps, ok := s.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	st := ps.state()
	resp := stateResponse{
		Session: ps.id,
		Story:   ps.story,
		Ended:   st.ended,
		Globals: st.globals,
	}
	if st.turn != nil {
		resp.Chapter = st.turn.Chapter.ID
		resp.Text = st.turn.Text
		resp.Inputs = st.turn.Inputs
		resp.Sets = st.turn.Sets
		resp.Navs = st.turn.Navs
	}
	if st.err != nil {
		resp.Error = st.err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// handleReply submits the form for the current turn and redirects back to
// the session page.
func (s *Server) handleReply(c *gin.Context) {
	ps, ok := s.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := ps.reply(c.Request.Context(), c.Request.PostForm)
	var inputErr *qerrors.InputError
	switch {
	case errors.As(err, &inputErr):
		s.showPage(c, http.StatusUnprocessableEntity, ps, inputErr.Error())
		return
	case errors.Is(err, ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Redirect(http.StatusSeeOther, "/sessions/"+ps.id)
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	ps, ok := s.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	s.sessions.Delete(id)
	ps.stop()

	s.logger.Info("Session stopped", "session", id, "story", ps.story)
	c.Status(http.StatusNoContent)
}

func (s *Server) showPage(c *gin.Context, status int, ps *playSession, message string) {
	st := ps.state()
	p := page{
		Title:      ps.title,
		Stylesheet: ps.stylesheet,
		Session:    ps.id,
		Error:      message,
	}
	if p.Title == "" {
		p.Title = ps.story
	}
	if st.turn != nil {
		p.Turn = st.turn.Text
	}
	if st.err != nil && !errors.Is(st.err, context.Canceled) && p.Error == "" {
		p.Error = st.err.Error()
	}

	html, err := p.render()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(status, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	s.logger.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}
