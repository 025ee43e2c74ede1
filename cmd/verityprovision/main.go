// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/clearlinux/verity-image-tools/internal/exe"
	"github.com/clearlinux/verity-image-tools/internal/logger"
	"github.com/clearlinux/verity-image-tools/internal/telemetry"
	"github.com/clearlinux/verity-image-tools/pkg/provisionlib"
	"golang.org/x/sys/unix"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("verityprovision", "Provisions dm-verity protection onto a partitioned disk image")

	buildDir         = app.Flag("build-dir", "Directory to run provisioning out of.").Required().String()
	configFile       = app.Flag("config-file", "Path of the provisioning config file.").Required().String()
	disableTelemetry = app.Flag("disable-telemetry", "Disable telemetry collection.").Bool()
	logFlags         = exe.SetupLogFlags(app)
)

func main() {
	var err error

	app.Version(provisionlib.ToolVersion)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.InitBestEffort(logFlags)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	err = telemetry.InitTelemetry(*disableTelemetry, provisionlib.ToolVersion)
	if err != nil {
		logger.Log.Warnf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		err := telemetry.ShutdownTelemetry(context.Background())
		if err != nil {
			logger.Log.Warnf("Failed to shut down telemetry: %v", err)
		}
	}()

	err = provisionlib.ProvisionWithConfigFile(ctx, *buildDir, *configFile)
	if err != nil {
		telemetry.ShutdownTelemetry(context.Background())
		log.Fatalf("image provisioning failed:\n%v", err)
	}
}
