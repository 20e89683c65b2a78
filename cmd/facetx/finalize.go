package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hatlonely/facetx/aggregation"
	"github.com/hatlonely/facetx/cfg"
	"github.com/hatlonely/facetx/log"
	"github.com/hatlonely/facetx/serializer"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// AppOptions 命令行配置文件
type AppOptions struct {
	Finalizer   aggregation.ObservableFinalizerOptions `cfg:"finalizer"`
	Serializer  serializer.Options                     `cfg:"serializer"`
	Concurrency int                                    `cfg:"concurrency" def:"4" validate:"gte=0"`
}

func loadOptions(path string) (*AppOptions, error) {
	options := &AppOptions{}
	if path != "" {
		if err := cfg.Load(path, options); err != nil {
			return nil, err
		}
		return options, nil
	}

	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.Wrap(err, "set defaults failed")
	}
	return options, errors.WithMessage(cfg.Validate(options), "invalid options")
}

func finalizeCmd() *cli.Command {
	return &cli.Command{
		Name:  "finalize",
		Usage: "Convert intermediate aggregation results into final results",
		Description: `Finalize one or more intermediate aggregation trees against an aggregation request.

The request is an Elasticsearch style aggregation object in json or yaml.
Intermediate results are decoded by file extension: .json, .msgpack, .bson.

Examples:
  facetx finalize --request req.yaml --input segment.json
  facetx finalize -r req.json -i a.json -i b.json --config app.yaml -o out.jsonl
  facetx finalize -r req.json -i a.msgpack --format bson -o out.bson`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "request",
				Aliases:  []string{"r"},
				Required: true,
				Usage:    "Path to aggregation request (.json, .yaml, .yml)",
			},
			&cli.StringSliceFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Required: true,
				Usage:    "Path to intermediate results (.json, .msgpack, .bson), repeatable",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.yaml, .json, .toml, .ini)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: json, msgpack, bson, protobuf. Overrides config",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file, stdout when empty",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			options, err := loadOptions(cmd.String("config"))
			if err != nil {
				return errors.WithMessage(err, "failed to load config")
			}
			if format := cmd.String("format"); format != "" {
				options.Serializer.Format = format
			}

			inputs := cmd.StringSlice("input")
			if len(inputs) > 1 && options.Serializer.Format != "json" {
				return errors.Errorf("multiple inputs require json output, got %q", options.Serializer.Format)
			}

			logger, err := log.NewLoggerWithOptions(options.Finalizer.Logger)
			if err != nil {
				return err
			}

			req, err := loadRequest(cmd.String("request"))
			if err != nil {
				return err
			}

			jobs := make([]*aggregation.Job, 0, len(inputs))
			for _, input := range inputs {
				intermediate, err := loadIntermediate(input)
				if err != nil {
					return err
				}
				jobs = append(jobs, &aggregation.Job{Intermediate: intermediate, Request: req})
			}

			finalizer, err := aggregation.NewObservableFinalizerWithOptions(&options.Finalizer)
			if err != nil {
				return errors.WithMessage(err, "failed to create finalizer")
			}

			results, err := aggregation.FinalizeBatch(ctx, finalizer, jobs, options.Concurrency)
			if err != nil {
				return errors.WithMessage(err, "finalize failed")
			}

			ser, err := serializer.NewByteSerializerWithOptions[aggregation.AggregationResults](&options.Serializer)
			if err != nil {
				return err
			}

			w, closeFn, err := openOutput(cmd.String("output"), cmd.Root().Writer)
			if err != nil {
				return err
			}
			defer closeFn()

			for i, result := range results {
				buf, err := ser.Serialize(result)
				if err != nil {
					return errors.Wrapf(err, "serialize result of %s failed", inputs[i])
				}
				if len(inputs) > 1 {
					buf = append(buf, '\n')
				}
				if _, err := w.Write(buf); err != nil {
					return errors.Wrap(err, "write output failed")
				}
			}

			logger.Info("finalize completed",
				"request", cmd.String("request"),
				"inputs", len(inputs),
				"format", options.Serializer.Format,
			)
			return nil
		},
	}
}

func loadRequest(path string) (*aggregation.Aggregations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read request %s failed", path)
	}

	req := &aggregation.Aggregations{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = req.UnmarshalJSON(data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, req)
	default:
		return nil, errors.Errorf("unsupported request file extension: %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "decode request %s failed", path)
	}

	if err := req.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid request %s", path)
	}
	return req, nil
}

func loadIntermediate(path string) (*aggregation.IntermediateAggregationResults, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".msgpack", ".mp":
		format = "msgpack"
	case ".bson":
		format = "bson"
	default:
		return nil, errors.Errorf("unsupported input file extension: %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read input %s failed", path)
	}

	ser, err := serializer.NewByteSerializerWithOptions[aggregation.IntermediateAggregationResults](&serializer.Options{Format: format})
	if err != nil {
		return nil, err
	}
	intermediate, err := ser.Deserialize(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode input %s failed", path)
	}
	return &intermediate, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create output %s failed", path)
	}
	return f, func() { _ = f.Close() }, nil
}
