package cmd

import (
	"github.com/spf13/pflag"

	"ollamabenchmark/internal/api"
)

type optionKind int

const (
	intOption optionKind = iota
	floatOption
	stringsOption
)

type generationOption struct {
	key   string
	kind  optionKind
	usage string
}

// generationOptions are forwarded to the model only when set
var generationOptions = []generationOption{
	{"mirostat", intOption, "Mirostat sampling (0 disabled, 1 Mirostat, 2 Mirostat 2.0)"},
	{"mirostat_eta", floatOption, "Mirostat learning rate"},
	{"mirostat_tau", floatOption, "Mirostat target entropy"},
	{"num_ctx", intOption, "context window size"},
	{"repeat_last_n", intOption, "how far back to look to prevent repetition"},
	{"repeat_penalty", floatOption, "penalty for repetitions"},
	{"temperature", floatOption, "sampling temperature"},
	{"seed", intOption, "random seed"},
	{"stop", stringsOption, "stop sequence (repeatable)"},
	{"tfs_z", floatOption, "tail free sampling"},
	{"num_predict", intOption, "maximum number of tokens to predict"},
	{"top_k", intOption, "top-k sampling"},
	{"top_p", floatOption, "top-p sampling"},
	{"min_p", floatOption, "min-p sampling"},
}

func addOptionFlags(fs *pflag.FlagSet) {
	for _, opt := range generationOptions {
		switch opt.kind {
		case intOption:
			fs.Int(opt.key, 0, opt.usage)
		case floatOption:
			fs.Float64(opt.key, 0, opt.usage)
		case stringsOption:
			fs.StringArray(opt.key, nil, opt.usage)
		}
	}
}

// applyOptionFlags overlays the generation options given on the command
// line onto base and returns the merged set.
func applyOptionFlags(fs *pflag.FlagSet, base map[string]any) (api.Options, error) {
	opts := api.Options{}
	for k, v := range base {
		opts[k] = v
	}
	for _, opt := range generationOptions {
		if !fs.Changed(opt.key) {
			continue
		}
		var (
			value any
			err   error
		)
		switch opt.kind {
		case intOption:
			value, err = fs.GetInt(opt.key)
		case floatOption:
			value, err = fs.GetFloat64(opt.key)
		case stringsOption:
			value, err = fs.GetStringArray(opt.key)
		}
		if err != nil {
			return nil, err
		}
		opts[opt.key] = value
	}
	return opts, nil
}
