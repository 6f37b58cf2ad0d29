package configuration

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/httpresponse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type admin struct {
	tls TLSFiles
}

// StubStarted is the body answered when a stub is started.
type StubStarted struct {
	Address      string `json:"address"`
	Provider     string `json:"provider"`
	Interactions int    `json:"interactions"`
}

func ServeAdminAPI(port int, files TLSFiles) *echo.Echo {
	adminServer := echo.New()
	adminServer.HideBanner = true
	adminServer.HidePort = true

	a := admin{tls: files}
	adminServer.GET("/ready", readinessHandler)
	adminServer.DELETE("/stubs", deleteStubsHandler)
	adminServer.POST("/stubs", a.postStubsHandler)

	go func() {
		address := fmt.Sprintf(":%d", port)
		if err := adminServer.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	return adminServer
}

func readinessHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func deleteStubsHandler(c echo.Context) error {
	log.Infof("closing all stubs")
	ShutdownAllServers(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (a admin) postStubsHandler(c echo.Context) error {
	address, err := url.Parse(c.QueryParam("address"))
	if err != nil || address.Host == "" {
		return c.JSON(
			http.StatusBadRequest,
			httpresponse.Errorf("address must be an absolute url, got '%s'", c.QueryParam("address")),
		)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read contract document. %s", err.Error()))
	}

	doc, err := contract.Decode(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
	}

	log.Infof("setting up stub of %s at %s", doc.Provider, address.String())

	if _, err := StartServer(address, doc, a.tls); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		return c.JSON(status, httpresponse.Errorf("unable to start stub. %s", err.Error()))
	}

	return c.JSON(http.StatusCreated, StubStarted{
		Address:      address.String(),
		Provider:     doc.Provider,
		Interactions: len(doc.Interactions),
	})
}
