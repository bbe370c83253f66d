package graphql

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-gonic/gin"

	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
)

// Handler defines the interface for GraphQL API handlers
type Handler interface {
	// HandleGraphQL handles GraphQL queries
	HandleGraphQL(c *gin.Context)

	// HandlePlayground serves the GraphQL Playground
	HandlePlayground(c *gin.Context)

	// HandleSchema serves the schema definition
	HandleSchema(c *gin.Context)
}

// gqlHandler implements the Handler interface using gqlgen
type gqlHandler struct {
	debug  bool
	server *handler.Server
}

// NewHandler creates a new read-only GraphQL handler backed by the executor
func NewHandler(debug bool, exec executor.Executor) (Handler, error) {
	schema, err := NewExecutableSchema(NewResolver(exec))
	if err != nil {
		return nil, err
	}

	// Create gqlgen server with custom error presenter
	srv := handler.NewDefaultServer(schema)
	srv.SetErrorPresenter(ErrorPresenter)
	srv.SetRecoverFunc(RecoverFunc)

	return &gqlHandler{
		debug:  debug,
		server: srv,
	}, nil
}

// HandleGraphQL processes GraphQL queries
func (h *gqlHandler) HandleGraphQL(c *gin.Context) {
	h.server.ServeHTTP(c.Writer, c.Request)
}

// HandlePlayground serves the GraphQL Playground interface
func (h *gqlHandler) HandlePlayground(c *gin.Context) {
	playground.Handler("Ownership Ledger GraphQL Playground", "/graphql").ServeHTTP(c.Writer, c.Request)
}

// HandleSchema serves the SDL so clients can generate types without introspection
func (h *gqlHandler) HandleSchema(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(SchemaSDL()))
}

// SetupRoutes configures GraphQL API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// GraphQL endpoint (POST for queries)
	router.POST("/graphql", handler.HandleGraphQL)

	// GraphQL Playground (GET for interactive IDE)
	router.GET("/graphql", handler.HandlePlayground)

	router.GET("/graphql/schema", handler.HandleSchema)
}
