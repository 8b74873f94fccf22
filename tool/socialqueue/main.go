/*
Copyright 2025 TechApps UT

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command socialqueue runs the publishing engine. A single binary runs any
// subset of the service roles, selected with --roles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/techappsUT/social-queue/lib/config"
	"github.com/techappsUT/social-queue/lib/service"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	app := kingpin.New("socialqueue", "Multi-tenant social publishing engine.")
	configPath := app.Flag("config", "Path to a YAML config file.").Short('c').String()

	start := app.Command("start", "Start the engine.")
	startRoles := start.Flag("roles", "Comma-separated roles to run (default: all).").String()

	versionCmd := app.Command("version", "Print the version and exit.")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	switch command {
	case start.FullCommand():
		if err := onStart(*configPath, *startRoles); err != nil {
			log.WithError(err).Error("Service exited with error.")
			fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
			os.Exit(1)
		}
	case versionCmd.FullCommand():
		fmt.Printf("socialqueue %s go%s\n", version, strings.TrimPrefix(runtime.Version(), "go"))
	}
}

func onStart(configPath, roles string) error {
	cfg, err := config.ReadFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	cfg.ApplyEnv()
	if roles != "" {
		cfg.Roles = nil
		for _, role := range strings.Split(roles, ",") {
			if role = strings.TrimSpace(role); role != "" {
				cfg.Roles = append(cfg.Roles, role)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer svc.Close()
	return trace.Wrap(svc.Run(ctx))
}
