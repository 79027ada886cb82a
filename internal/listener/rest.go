package listener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RestServer accepts VAAs over HTTP as an alternative to the spy.
type RestServer struct {
	ingester *Ingester
	echo     *echo.Echo
	logger   *zap.Logger
}

func NewRestServer(ingester *Ingester, logger *zap.Logger) *RestServer {
	s := &RestServer{
		ingester: ingester,
		echo:     echo.New(),
		logger:   logger.With(zap.String("component", "RestServer")),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/relayvaa/:vaa", s.handleRelayVAA)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *RestServer) Handler() http.Handler {
	return s.echo
}

func (s *RestServer) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service": "spy relayer",
		"routes":  []string{"GET /relayvaa/:vaaInBase64"},
	})
}

func (s *RestServer) handleRelayVAA(c echo.Context) error {
	param, err := url.PathUnescape(c.Param("vaa"))
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid path encoding")
	}
	raw, err := base64.StdEncoding.DecodeString(param)
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid base64 VAA")
	}

	if _, err := s.ingester.Ingest(c.Request().Context(), raw); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return c.String(http.StatusBadRequest, rejected.Reason)
		}
		s.logger.Error("Failed to accept VAA", zap.Error(err))
		return c.String(http.StatusInternalServerError, "failed to queue VAA")
	}
	return c.String(http.StatusOK, "Request accepted")
}

// Serve listens on port until ctx is cancelled.
func (s *RestServer) Serve(ctx context.Context, port int) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Serving REST ingestion", zap.Int("port", port))
	if err := s.echo.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest server failed: %w", err)
	}
	return nil
}
