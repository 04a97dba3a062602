// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"

	"github.com/ixcore/devicecore/internal/common"
	"github.com/pelletier/go-toml"
)

// LoadConfig loads the local configuration file based upon the
// specified parameters and returns a pointer to a newly allocated
// Config struct which holds all of the local configuration settings
// for the core. The profile and confDir are used to locate the local TOML
// config file; when profile is non-empty, it names a subdirectory of
// confDir (e.g. res/docker/configuration.toml).
func LoadConfig(profile string, confDir string) (*common.Config, error) {
	fmt.Fprintf(os.Stdout, "Init: profile: %s confDir: %s\n", profile, confDir)

	return loadConfigFromFile(profile, confDir)
}

func loadConfigFromFile(profile string, confDir string) (config *common.Config, err error) {
	if len(confDir) == 0 {
		confDir = common.ConfigDirectory
	}
	if len(profile) > 0 {
		confDir = path.Join(confDir, profile)
	}

	cfgPath := path.Join(confDir, common.ConfigFileName)
	absPath, err := filepath.Abs(cfgPath)
	if err != nil {
		err = fmt.Errorf("could not create absolute path to load configuration: %s; %v", cfgPath, err.Error())
		return nil, err
	}
	fmt.Fprintln(os.Stdout, fmt.Sprintf("Loading configuration from: %s\n", absPath))

	// As the toml package can panic if TOML is invalid, or elements
	// are found that don't match members of the given struct, use a
	// deferred func to recover from the panic and output a useful
	// error instead of crashing the process.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("could not load configuration file; invalid TOML (%s)", cfgPath)
		}
	}()

	config = &common.Config{}
	contents, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration file (%s): %v\nbe sure to change to program folder or set working directory", cfgPath, err.Error())
	}

	err = toml.Unmarshal(contents, config)
	if err != nil {
		return nil, fmt.Errorf("unable to parse configuration file (%s): %v", cfgPath, err.Error())
	}

	return config, nil
}
