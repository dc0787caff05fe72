package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dougbtv/vllm-ci-mcp/auth"
	"github.com/dougbtv/vllm-ci-mcp/common"
	"github.com/dougbtv/vllm-ci-mcp/services/ciwatch"
)

type mcpservice string

const (
	CIWatch mcpservice = "ciwatch"
)

// serviceFactory constructs a fresh, uninitialized service instance.
type serviceFactory func() common.McpService

// serviceRegistry maps service names to their factories. Tests register
// additional entries.
var serviceRegistry = map[mcpservice]serviceFactory{
	CIWatch: func() common.McpService { return &ciwatch.Service{} },
}

// mcpFlags provides a struct to hold data required by mcp services provided
// via cmdline arguments.
type mcpFlags struct {
	// Name of the service.
	ServiceName string

	// Arguments to pass on to the service.
	ServiceArgs string

	// Port for the HTTP server in SSE mode.
	Port int
}

// AsCliFlags provides a list of the flags supported by the mcpserver cmd.
func (flags *mcpFlags) AsCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Destination: &flags.ServiceName,
			Name:        "service",
			Value:       string(CIWatch),
			Usage:       "The name of the service to run.",
		},
		&cli.StringFlag{
			Destination: &flags.ServiceArgs,
			Name:        "args",
			Value:       "",
			Usage:       "The arguments for the service, comma-separated key=value pairs.",
		},
		&cli.IntFlag{
			Destination: &flags.Port,
			Name:        "port",
			Value:       8080,
			Usage:       "The port to serve SSE traffic on.",
		},
	}
}

// mcpserver manages the running service and its transports.
type mcpserver struct {
	service   common.McpService
	mcpServer *server.MCPServer
	sseServer *server.SSEServer
}

// Cmd execution entry point.
func main() {
	var flags mcpFlags
	if err := newCliApp(&flags).Run(os.Args); err != nil {
		fmt.Printf("\nError: %s\n", err.Error())
		os.Exit(2)
	}
}

// newCliApp builds the command line interface around the given flag storage.
func newCliApp(mcpFlags *mcpFlags) *cli.App {
	return &cli.App{
		Name:  "mcpserver",
		Usage: "Command line tool that runs the MCP service.",
		Before: func(c *cli.Context) error {
			// Credentials may come from a local .env file.
			if err := godotenv.Load(); err == nil {
				logrus.Info("Loaded environment from .env")
			}
			logrus.SetOutput(os.Stdout)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:        "run",
				Usage:       "mcpserver run --service=ciwatch",
				Description: "Runs the process that hosts the mcp service over SSE.",
				Flags:       mcpFlags.AsCliFlags(),
				Action: func(c *cli.Context) error {
					srv, err := createMcpSSEServer(mcpFlags)
					if err != nil {
						return err
					}
					defer srv.shutdown()
					addr := fmt.Sprintf(":%d", mcpFlags.Port)
					logrus.Infof("Service %s listening on %s", mcpFlags.ServiceName, addr)
					return srv.serve(addr)
				},
			},
			{
				Name:        "stdio",
				Usage:       "mcpserver stdio --service=ciwatch",
				Description: "Runs the mcp service over stdio for local clients.",
				Flags:       mcpFlags.AsCliFlags(),
				Action: func(c *cli.Context) error {
					srv, err := createMcpSSEServer(mcpFlags)
					if err != nil {
						return err
					}
					defer srv.shutdown()
					return server.ServeStdio(srv.mcpServer)
				},
			},
		},
	}
}

// createMcpSSEServer initializes the named service and wraps its tools and
// resources in an MCP server with an SSE transport.
func createMcpSSEServer(mcpFlags *mcpFlags) (*mcpserver, error) {
	factory, ok := serviceRegistry[mcpservice(mcpFlags.ServiceName)]
	if !ok {
		return nil, errors.Errorf("Invalid service name %s specified.", mcpFlags.ServiceName)
	}
	service := factory()

	logrus.Infof("Initializing service %s", mcpFlags.ServiceName)
	if err := service.Init(mcpFlags.ServiceArgs); err != nil {
		return nil, err
	}

	mcpServer := server.NewMCPServer(
		mcpFlags.ServiceName,
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)

	for _, tool := range service.GetTools() {
		opts := []mcp.ToolOption{mcp.WithDescription(tool.Description)}
		for _, arg := range tool.Arguments {
			propOpts := []mcp.PropertyOption{mcp.Description(arg.Description)}
			if arg.Required {
				propOpts = append(propOpts, mcp.Required())
			}
			switch arg.ArgumentType {
			case common.StringArgument:
				if len(arg.EnumValues) > 0 {
					propOpts = append(propOpts, mcp.Enum(arg.EnumValues...))
				}
				opts = append(opts, mcp.WithString(arg.Name, propOpts...))
			case common.BooleanArgument:
				opts = append(opts, mcp.WithBoolean(arg.Name, propOpts...))
			case common.NumberArgument:
				opts = append(opts, mcp.WithNumber(arg.Name, propOpts...))
			case common.ObjectArgument:
				opts = append(opts, mcp.WithObject(arg.Name, propOpts...))
			case common.ArrayArgument:
				if len(arg.ArraySchema) == 0 {
					return nil, errors.Errorf("Array type argument %s does not have a schema defined", arg.Name)
				}
				propOpts = append(propOpts, mcp.Items(arg.ArraySchema))
				opts = append(opts, mcp.WithArray(arg.Name, propOpts...))
			default:
				return nil, errors.Errorf("Invalid argument type %d", arg.ArgumentType)
			}
		}
		mcpServer.AddTool(mcp.NewTool(tool.Name, opts...), tool.Handler)
	}

	if provider, ok := service.(common.ResourceProvider); ok {
		for _, resource := range provider.GetResources() {
			mcpServer.AddResource(mcp.NewResource(
				resource.URI,
				resource.Name,
				mcp.WithResourceDescription(resource.Description),
				mcp.WithMIMEType(resource.MimeType),
			), resource.Handler)
		}
	}

	return &mcpserver{
		service:   service,
		mcpServer: mcpServer,
		sseServer: server.NewSSEServer(mcpServer),
	}, nil
}

// serve starts the HTTP server for SSE traffic. Auth headers forwarded by
// the proxy are extracted into the request context before the MCP layer sees
// them.
func (s *mcpserver) serve(addr string) error {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.AuthFromRequest(r.Context(), r)))
		})
	})
	router.Handle("/*", s.sseServer)

	return http.ListenAndServe(addr, router)
}

// shutdown tears the hosted service down.
func (s *mcpserver) shutdown() {
	if err := s.service.Shutdown(); err != nil {
		logrus.Errorf("Service shutdown failed: %s", err)
	}
}
