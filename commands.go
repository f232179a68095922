package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/controller"
	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/store"
)

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Run one prediction from the command line",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "Path to the bridge photograph",
			},
			&cli.StringSliceFlag{
				Name:    "set",
				Aliases: []string{"s"},
				Usage:   "Override a parameter, e.g. --set bridgeWidth=30 (empty value clears it)",
			},
			&cli.StringFlag{
				Name:    "unit",
				Aliases: []string{"u"},
				Usage:   "Unit to print the failure load in (g, kg, N)",
			},
		},
		Action: runPredict,
	}
}

// runPredict drives the same store and controller the server uses
func runPredict(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var unit predict.Unit
	if u := c.String("unit"); u != "" {
		if unit, err = predict.ParseUnit(u); err != nil {
			return err
		}
	}

	svc, err := predict.New(cfg.Prediction, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()
	st := store.New(bus, logger)
	ctrl := controller.New(st, svc, bus, cfg.Prediction.Timeout, logger)
	defer ctrl.Close()

	sub, unsubscribe := bus.Subscribe(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printNotices(os.Stderr, sub)
	}()
	// flushNotices lets the printer drain what is already buffered
	flushNotices := func() {
		unsubscribe()
		<-printed
	}
	defer flushNotices()

	for _, kv := range c.StringSlice("set") {
		if err := applySetting(st, kv); err != nil {
			return err
		}
	}

	if path := c.String("image"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if err := <-st.SetImage(data, mime.TypeByExtension(filepath.Ext(path)), filepath.Base(path)); err != nil {
			return err
		}
	}

	done, err := ctrl.Submit(c.Context)
	if err != nil {
		var ve *controller.ValidationError
		if errors.As(err, &ve) {
			return cli.Exit(ve.Error(), 2)
		}
		return err
	}

	select {
	case <-done:
	case <-c.Context.Done():
		return c.Context.Err()
	}
	flushNotices()

	if err := ctrl.LastError(); err != nil {
		logger.Debug("prediction failed", zap.Error(err))
		return cli.Exit("Prediction failed: "+err.Error(), 1)
	}

	res := ctrl.Result()
	fmt.Printf("Predicted failure load: %s\n", res.Format(unit))
	if res.Confidence != nil {
		fmt.Printf("Confidence:             %.0f%%\n", *res.Confidence*100)
	}
	if res.WeakestPoint != nil {
		fmt.Printf("Weakest point:          %s\n", *res.WeakestPoint)
	}
	if res.HasAngles() {
		snap := st.Snapshot()
		fmt.Printf("Detected angles:        inclination %g°, declination %g°\n",
			snap.Params[params.InclinationAngle], snap.Params[params.DeclinationAngle])
	}
	return nil
}

// applySetting handles one field=value pair. An empty value clears the field.
func applySetting(st *store.Store, kv string) error {
	name, raw, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("invalid --set %q: expected field=value", kv)
	}
	id := params.FieldID(strings.TrimSpace(name))

	if strings.TrimSpace(raw) == "" {
		return st.ClearParameter(id)
	}
	changed, err := st.SetParameter(id, raw)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("invalid --set %q: %q is not a number", kv, raw)
	}
	return nil
}

// printNotices writes one line per notice until sub is closed
func printNotices(w io.Writer, sub <-chan events.Event) {
	for ev := range sub {
		if ev.Type != events.TypeNotice {
			continue
		}
		line := ev.Notice.Title
		if ev.Notice.Description != "" {
			line += " " + ev.Notice.Description
		}
		fmt.Fprintln(w, line)
	}
}

func fieldsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "List the structural parameters and their defaults",
		Action: func(c *cli.Context) error {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tLABEL\tUNIT\tMIN\tMAX\tSTEP\tDEFAULT")
			var group params.Group
			for _, f := range params.Fields() {
				if f.Group != group {
					group = f.Group
					fmt.Fprintf(tw, "# %s\t\t\t\t\t\t\n", group)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%g\t%g\n", f.ID, f.Label, f.Unit, f.Min, f.Max, f.Step, f.Default)
			}
			return tw.Flush()
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version and exit",
		Action: func(c *cli.Context) error {
			fmt.Printf("Bridge Predict v%s\n", version)
			return nil
		},
	}
}
