package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"cardscan/pkg/scan"
)

// Controller is the pipeline surface the HTTP layer drives.
type Controller interface {
	Snapshot() scan.State
	Subscribe() (<-chan scan.State, func())
	Retry() error
	Reload() error
	Dial(ctx context.Context, d scan.Dialer) error
	CopyCode(ctx context.Context, c scan.Clipboard) error
}

// stateView is the JSON shape of a snapshot, with derived dial codes.
type stateView struct {
	scan.State
	DialCode     string `json:"dial_code,omitempty"`
	LastDialCode string `json:"last_dial_code,omitempty"`
	Retryable    bool   `json:"retryable"`
}

func newStateView(st scan.State) stateView {
	return stateView{
		State:        st,
		DialCode:     st.DialCode(),
		LastDialCode: st.LastDialCode(),
		Retryable:    st.Status.Retryable(),
	}
}

func setupRoutes(r *gin.Engine, ctl Controller, secret []byte) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	group := r.Group("")
	if len(secret) > 0 {
		group.Use(jwtAuthMiddleware(secret))
	}
	group.GET("/state", stateHandler(ctl))
	group.GET("/events", eventsHandler(ctl))
	group.POST("/retry", retryHandler(ctl))
	group.POST("/reload", reloadHandler(ctl))
	group.POST("/dial", dialHandler(ctl))
	group.POST("/copy", copyHandler(ctl))
}

func stateHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, newStateView(ctl.Snapshot()))
	}
}

// eventsHandler streams snapshots as server-sent events until the client goes away.
func eventsHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, cancel := ctl.Subscribe()
		defer cancel()
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Stream(func(w io.Writer) bool {
			select {
			case st, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("state", newStateView(st))
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func retryHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ctl.Retry(); err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newStateView(ctl.Snapshot()))
	}
}

func reloadHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ctl.Reload(); err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newStateView(ctl.Snapshot()))
	}
}

// dialHandler returns the tel: URI for the client to open; the server has no
// telephony of its own.
func dialHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var dialed string
		err := ctl.Dial(c.Request.Context(), scan.DialerFunc(func(ctx context.Context, code string) error {
			dialed = code
			return nil
		}))
		if err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dial_code": dialed, "uri": telURI(dialed)})
	}
}

func copyHandler(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var text string
		err := ctl.CopyCode(c.Request.Context(), scan.ClipboardFunc(func(ctx context.Context, s string) error {
			text = s
			return nil
		}))
		if err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	}
}

// telURI escapes '#' so dialers do not treat it as a fragment.
func telURI(dialCode string) string {
	return "tel:" + url.PathEscape(dialCode)
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, scan.ErrRetryNotAllowed), errors.Is(err, scan.ErrNoDialCode):
		return http.StatusConflict
	case errors.Is(err, scan.ErrNotRunning):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
