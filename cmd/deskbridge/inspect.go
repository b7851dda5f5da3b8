package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/breeze-rmm/deskbridge/internal/config"
	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var monitorsJSON bool

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List attached displays",
	RunE: func(cmd *cobra.Command, args []string) error {
		monitors, err := desktop.ScreenEnumerator{}.Enumerate()
		if err != nil {
			return err
		}
		if monitorsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(monitors)
		}
		printMonitors(monitors)
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that capture and input work on this host",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		cfg, err := loadConfig(loader)
		if err != nil {
			return err
		}
		if f := loader.File(); f != "" {
			fmt.Printf("# %s\n", f)
		} else {
			fmt.Println("# defaults (no config file found)")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	monitorsCmd.Flags().BoolVar(&monitorsJSON, "json", false, "print monitors as JSON")
	configCmd.AddCommand(configShowCmd)
}

func printMonitors(monitors []desktop.MonitorDescriptor) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tORIGIN\tPRIMARY")
	for _, m := range monitors {
		primary := ""
		if m.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%dx%d\t%d,%d\t%s\n", m.ID, m.Name, m.Width, m.Height, m.X, m.Y, primary)
	}
	w.Flush()
}

func runDoctor() {
	fmt.Printf("deskbridge v%s\n\n", version)

	if info, err := host.Info(); err != nil {
		fmt.Printf("host:      unavailable (%v)\n", err)
	} else {
		fmt.Printf("host:      %s (%s %s, %s)\n", info.Hostname, info.Platform, info.PlatformVersion, info.KernelArch)
	}

	loader := config.NewLoader(cfgFile)
	if cfg, err := loader.Load(); err != nil {
		fmt.Printf("config:    FAIL %v\n", err)
	} else {
		file := loader.File()
		if file == "" {
			file = "defaults"
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			fmt.Printf("config:    %s, %d finding(s)\n", file, len(errs))
			for _, e := range errs {
				fmt.Printf("           - %v\n", e)
			}
		} else {
			fmt.Printf("config:    %s, ok\n", file)
		}
	}

	if _, err := input.NewInjector(); err != nil {
		fmt.Printf("input:     FAIL %v\n", err)
	} else {
		fmt.Println("input:     ok")
	}

	monitors, err := desktop.ScreenEnumerator{}.Enumerate()
	if err != nil {
		fmt.Printf("monitors:  FAIL %v\n", err)
		return
	}
	fmt.Printf("monitors:  %d found\n\n", len(monitors))
	printMonitors(monitors)
}
