package main

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

type options struct {
	configPath    string
	verbose       bool
	brightness    int
	brightnessSet bool
	logTopics     string
	listDevices   bool
	writeConfig   string
}

// parseFlags parses the command line. It returns flag.ErrHelp when usage
// was requested.
func parseFlags(args []string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("kbd-backlightd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the TOML configuration file")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "enable all verbose logging (equivalent to --log=all)")
	fs.IntVar(&o.brightness, "brightness", 0, "backlight brightness in percent when no config file is used (0-100)")
	fs.StringVar(&o.logTopics, "log", "", "comma-separated log topics: input,backlight,activity,power,storage,mqtt (or 'all')")
	fs.BoolVar(&o.listDevices, "list-devices", false, "print detected input devices and keyboard backlights, then exit")
	fs.StringVar(&o.writeConfig, "write-config", "", "write the effective configuration to this path, then exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o.brightnessSet = fs.Changed("brightness")
	if o.brightnessSet && o.configPath != "" {
		return options{}, errors.New("--config and --brightness are mutually exclusive; set brightness in the [general] section instead")
	}
	return o, nil
}
