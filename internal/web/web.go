package web

import (
	"net/http"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"udpfs/internal/tree"
)

// New returns the admin http handler. pprof routes are only mounted with debug.
func New(t *tree.Tree, g prometheus.Gatherer, debug bool) http.Handler {
	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Recover())
	server.Use(requestLogger(log.With().Str("component", "web").Logger()))

	if debug {
		server.Debug = true
		wrapPprof(server)
	}

	server.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))

	h := treeHandler{t: t}
	server.GET("/tree", h.root)
	server.GET("/tree/:id", h.entry)

	return server
}

func requestLogger(l zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l.Debug().Err(v.Error).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

type treeHandler struct {
	t *tree.Tree
}

// FileInfo is the body of GET /tree/:id for a regular file.
type FileInfo struct {
	Path  string `json:"path"`
	Human string `json:"human_size"`
	Size  int64  `json:"size"`
	ID    uint32 `json:"id"`
}

func (h treeHandler) root(c echo.Context) error {
	return h.listing(c, 0)
}

func (h treeHandler) entry(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id must be an unsigned 32 bit integer")
	}

	return h.listing(c, uint32(id))
}

func (h treeHandler) listing(c echo.Context, id uint32) error {
	p, ok := h.t.Path(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such resource")
	}

	info, err := os.Stat(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "resource is gone").SetInternal(err)
	}

	if info.IsDir() {
		s, err := h.t.Listing(p)
		if err != nil {
			return err
		}

		return c.String(http.StatusOK, s)
	}

	if !info.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound, "resource is neither a file nor a directory")
	}

	rel, _ := h.t.Rel(id)

	return c.JSON(http.StatusOK, FileInfo{
		ID:    id,
		Path:  rel,
		Size:  info.Size(),
		Human: humanize.IBytes(uint64(info.Size())),
	})
}
