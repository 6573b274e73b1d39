package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/http/middleware"
	"github.com/VENIZIA-AI/ignis-sub007/internal/repository"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resource binds an entity to a URL path.
type Resource struct {
	Entity   string `yaml:"entity"`
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readOnly"`
}

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	BasePath  string                `yaml:"basePath"`
	Limits    Limits                `yaml:"limits"`
	CORS      middleware.CORSConfig `yaml:"cors"`
	Resources []Resource            `yaml:"resources"`
}

// NewRouter builds a gin engine serving every configured resource. Without
// resources every registered entity is served at its lower-cased name.
func NewRouter(ds *repository.DataSource, cfg RouterConfig) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceContextMiddleware())
	r.Use(middleware.AccessLogMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	resources := cfg.Resources
	if len(resources) == 0 {
		for _, name := range ds.Registry().Names() {
			resources = append(resources, Resource{Entity: name})
		}
	}

	api := r.Group(cfg.BasePath)
	for _, res := range resources {
		repo, err := resourceRepository(ds, res)
		if err != nil {
			return nil, err
		}
		path := res.Path
		if path == "" {
			path = "/" + strings.ToLower(res.Entity)
		}
		NewHandler(repo, cfg.Limits).Register(api.Group(path))
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})
	return r, nil
}

func resourceRepository(ds *repository.DataSource, res Resource) (repository.CRUD, error) {
	if res.ReadOnly {
		repo, err := ds.ReadOnly(res.Entity)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", res.Entity, err)
		}
		return repo, nil
	}
	repo, err := ds.Repository(res.Entity)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", res.Entity, err)
	}
	return repo, nil
}
