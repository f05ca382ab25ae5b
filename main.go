package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/codetesla51/raw-http/http1"
	"github.com/codetesla51/raw-http/server"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML, JSON or TOML config file")
	flag.Parse()

	v, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading config:", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(v),
		server.Module(),
		fx.Invoke(registerRoutes),
	)
	app.Run()
}

// loadConfig layers an optional config file and RAWHTTP_* environment
// variables over the defaults.
func loadConfig(file string) (*viper.Viper, error) {
	v := viper.New()
	server.SetDefaults(v)
	v.SetEnvPrefix("RAWHTTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func registerRoutes(r *server.Router) error {
	return multierr.Combine(
		r.RegisterFunc("GET", "/hello", func(req *http1.Request) *http1.Response {
			return server.Text(200, "Hello "+server.Browser(req)+" user!")
		}),
		r.RegisterFunc("GET", "/time", func(*http1.Request) *http1.Response {
			return server.Text(200, time.Now().Format("15:04:05"))
		}),
		r.RegisterFunc("POST", "/test", func(req *http1.Request) *http1.Response {
			form, err := server.Form(req)
			if err != nil {
				return server.Text(400, err.Error())
			}
			return server.Text(200, fmt.Sprintf("Hello from test Post (%d fields)", len(form)))
		}),
		r.RegisterFunc("GET", "/users/{id}", func(req *http1.Request) *http1.Response {
			return server.Text(200, "User "+server.Param(req, "id"))
		}),
		r.RegisterFunc("POST", "/echo", func(req *http1.Request) *http1.Response {
			resp := http1.NewResponse(200).WithBody(req.Body)
			if ct := req.Header.Get(http1.HeaderContentType); ct != "" {
				resp.Header.Set(http1.HeaderContentType, ct)
			}
			return resp
		}),
		r.RegisterFunc("GET", "/download/{*path}", download),
	)
}

// download streams files below ./pages with their length announced.
func download(req *http1.Request) *http1.Response {
	resp := server.ServeFile("pages", server.Param(req, "path"))
	if resp == nil {
		return server.Text(404, "File Not Found")
	}
	if resp.Status == 200 {
		name := server.Param(req, "path")
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		resp.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	return resp
}
