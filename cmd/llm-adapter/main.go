package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/olekukonko/tablewriter"

	"github.com/gpustack/llm-adapter-go/util/anyx"
	"github.com/gpustack/llm-adapter-go/util/json"
	"github.com/gpustack/llm-adapter-go/util/signalx"

	. "github.com/gpustack/llm-adapter-go"
)

var Version = "v0.0.0"

func main() {
	ctx := signalx.Handler()

	// Parse arguments.

	var (
		// model options
		path    string
		url     string
		token   string
		hfRepo  string
		hfFile  string
		hfToken string
		msRepo  string
		msFile  string
		// read options
		debug                  bool
		skipProxy              bool
		skipTLSVerify          bool
		skipDNSCache           bool
		skipRangDownloadDetect bool
		skipCache              bool
		// adapter options
		adapterConfig  string
		adapterPackage string
		adapterMethod  string
		adapterOptions string
		seed           uint64
		// placement options
		devices    string
		skipShard  bool
		printModel bool
		// output options
		version      bool
		inMib        bool
		inJson       bool
		inPrettyJson = true
	)
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "Usage of llm-adapter %v:\n", Version)
		fs.PrintDefaults()
	}
	fs.StringVar(&path, "path", path, "Path where the GGUF file to load for the base model, e.g. ~/.cache"+
		"/lm-studio/models/QuantFactory/Qwen2-7B-Instruct-GGUF"+
		"/Qwen2-7B-Instruct.Q5_K_M.gguf.")
	fs.StringVar(&url, "url", url, "Url where the GGUF file to load for the base model, e.g. "+
		"https://huggingface.co/QuantFactory/Qwen2-7B-Instruct-GGUF"+
		"/resolve/main/Qwen2-7B-Instruct.Q5_K_M.gguf. "+
		"Note that llm-adapter does not need to download the entire GGUF file.")
	fs.StringVar(&token, "token", token, "Bearer auth token to load GGUF file, optional, "+
		"works with --url.")
	fs.StringVar(&hfRepo, "hf-repo", hfRepo, "Repository of HuggingFace which the GGUF file store for the base model, e.g. "+
		"QuantFactory/Qwen2-7B-Instruct-GGUF, works with --hf-file.")
	fs.StringVar(&hfFile, "hf-file", hfFile, "Model file below the --hf-repo, e.g. "+
		"Qwen2-7B-Instruct.Q5_K_M.gguf.")
	fs.StringVar(&hfToken, "hf-token", hfToken, "User access token of HuggingFace, optional, "+
		"works with --hf-repo/--hf-file pair. "+
		"See https://huggingface.co/settings/tokens.")
	fs.StringVar(&msRepo, "ms-repo", msRepo, "Repository of ModelScope which the GGUF file store for the base model, e.g. "+
		"qwen/Qwen1.5-0.5B-Chat-GGUF, works with --ms-file.")
	fs.StringVar(&msFile, "ms-file", msFile, "Model file below the --ms-repo, e.g. "+
		"qwen1_5-0_5b-chat-q5_k_m.gguf.")
	fs.BoolVar(&debug, "debug", debug, "Enable debugging, verbosity.")
	fs.BoolVar(&skipProxy, "skip-proxy", skipProxy, "Skip proxy settings, "+
		"works with --url/--hf-*/--ms-*, "+
		"default is respecting the environment variables HTTP_PROXY/HTTPS_PROXY/NO_PROXY.")
	fs.BoolVar(&skipTLSVerify, "skip-tls-verify", skipTLSVerify, "Skip TLS verification, "+
		"works with --url/--hf-*/--ms-*, "+
		"default is verifying the TLS certificate on HTTPs request.")
	fs.BoolVar(&skipDNSCache, "skip-dns-cache", skipDNSCache, "Skip DNS cache, "+
		"works with --url/--hf-*/--ms-*, "+
		"default is caching the DNS lookup result.")
	fs.BoolVar(&skipRangDownloadDetect, "skip-rang-download-detect", skipRangDownloadDetect, "Skip range download detect, "+
		"works with --url/--hf-*/--ms-*, "+
		"default is detecting the range download support.")
	fs.BoolVar(&skipCache, "skip-cache", skipCache, "Skip cache, "+
		"works with --url/--hf-*/--ms-*, "+
		"default is caching the read result.")
	fs.StringVar(&adapterConfig, "adapter-config", adapterConfig, "Path where the YAML or JSON adapter configuration to load, "+
		"e.g. {use: true, args: [{adapter_package: peft, adapter_method: lora, r: 8}]}, "+
		"overrides --adapter-package/--adapter-method/--adapter-options.")
	fs.StringVar(&adapterPackage, "adapter-package", adapterPackage, "Specify the adaptation library to attach, "+
		"select from [peft, adapterhub], "+
		"default is not attaching.")
	fs.StringVar(&adapterMethod, "adapter-method", adapterMethod, "Specify the adaptation method to attach, "+
		"e.g. lora, prefix, prompt, p-tuning, bottleneck, lang, compacter, ia_3, union, mam, "+
		"default is lora if --adapter-package is given.")
	fs.StringVar(&adapterOptions, "adapter-options", adapterOptions, "Specify the method options in JSON, "+
		"e.g. {\"r\": 8, \"target_modules\": [\"attn_q\", \"attn_v\"]}.")
	fs.Uint64Var(&seed, "seed", seed, "Specify the seed to initialize the adapter weights, "+
		"default is random.")
	fs.StringVar(&devices, "devices", devices, "Specify the devices to shard over, "+
		"e.g. cuda:0=24GiB,cuda:1=24GiB, "+
		"default is reading the environment variable "+DevicesEnv+".")
	fs.BoolVar(&skipShard, "skip-shard", skipShard, "Skip to plan the placement over the devices.")
	fs.BoolVar(&printModel, "print-model-map", printModel, "Display the device of every parameter.")
	fs.BoolVar(&version, "version", version, "Show llm-adapter version.")
	fs.BoolVar(&inMib, "in-mib", inMib, "Display the sizes in table with MiB.")
	fs.BoolVar(&inJson, "json", inJson, "Output as JSON.")
	fs.BoolVar(&inPrettyJson, "json-pretty", inPrettyJson, "Output as pretty JSON.")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	if version {
		fmt.Printf("llm-adapter %s\n", Version)
		return
	}

	// Prepare options.

	ropts := []GGUFReadOption{
		SkipTensorData(),
		UseMMap(),
		UseCache(),
	}
	if debug {
		ropts = append(ropts, UseDebug())
	}
	if url != "" && token != "" {
		ropts = append(ropts, UseBearerAuth(token))
	}
	if skipProxy {
		ropts = append(ropts, SkipProxy())
	}
	if skipTLSVerify {
		ropts = append(ropts, SkipTLSVerification())
	}
	if skipDNSCache {
		ropts = append(ropts, SkipDNSCache())
	}
	if skipRangDownloadDetect {
		ropts = append(ropts, SkipRangeDownloadDetection())
	}
	if skipCache {
		ropts = append(ropts, SkipCache())
	}

	log := logr.Discard()
	if debug {
		log = funcr.New(func(prefix, args string) {
			_, _ = fmt.Fprintln(os.Stderr, prefix, args)
		}, funcr.Options{Verbosity: 1})
	}

	mopts := []AdapterModelOption{WithLogger(log)}
	switch {
	case adapterConfig != "":
		c, err := ParseAdapterConfigFile(adapterConfig)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to parse adapter config: %s\n", err.Error())
			os.Exit(1)
		}
		mopts = append(mopts, WithAdapterConfig(*c))
	case adapterPackage != "" || adapterMethod != "":
		s := AdaptationSpec{
			Backend: Backend(adapterPackage),
			Method:  Method(adapterMethod),
		}
		if adapterOptions != "" {
			if err := json.Unmarshal([]byte(adapterOptions), &s.Options); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "failed to parse adapter options: %s\n", err.Error())
				os.Exit(1)
			}
		}
		mopts = append(mopts, WithAdapter(s))
	}
	if seed != 0 {
		mopts = append(mopts, WithSeed(seed))
	}
	if devices != "" {
		ds, err := ParseDevices(devices)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to parse devices: %s\n", err.Error())
			os.Exit(1)
		}
		mopts = append(mopts, WithDevices(ds...))
	}

	// Parse GGUF file.

	var m *BaseModel
	{
		var (
			gf  *GGUFFile
			err error
		)
		switch {
		default:
			_, _ = fmt.Fprintf(os.Stderr, "no model specified\n")
			os.Exit(1)
		case path != "":
			m, err = ParseModelFile(path, ropts...)
		case url != "":
			gf, err = ParseGGUFFileRemote(ctx, url, ropts...)
		case hfRepo != "" && hfFile != "":
			if hfToken != "" {
				ropts = append(ropts, UseBearerAuth(hfToken))
			}
			gf, err = ParseGGUFFileFromHuggingFace(ctx, hfRepo, hfFile, ropts...)
		case msRepo != "" && msFile != "":
			gf, err = ParseGGUFFileFromModelScope(ctx, msRepo, msFile, ropts...)
		}
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			_, _ = fmt.Fprintf(os.Stderr, "failed to parse GGUF file: %s\n", err.Error())
			os.Exit(1)
		}
		if gf != nil {
			m = gf.Model()
		}
	}

	// Wrap and plan.

	am, err := NewAdapterModel(m, mopts...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to wrap model: %s\n", err.Error())
		os.Exit(1)
	}

	var sharded error
	if !skipShard {
		sharded = am.Shard()
		var ce *CapacityError
		if sharded != nil && !errors.As(sharded, &ce) && !errors.Is(sharded, ErrNoDevices) {
			_, _ = fmt.Fprintf(os.Stderr, "failed to shard model: %s\n", sharded.Error())
			os.Exit(1)
		}
	}

	r := result{
		Architecture: am.Architecture(),
		AtomicUnits:  am.AtomicUnits(),
		Parameters:   m.Module.Elements(),
		Size:         m.Module.Size(),
		Trainable:    am.TrainableSummary(),
		Placement:    am.PlacementState().String(),
		DeviceMap:    am.DeviceMap(),
		Devices:      usages(am),
	}
	if v, ok := am.Config()["general.name"]; ok {
		r.Name = anyx.String(v)
	}
	if a := am.Adapted(); a != nil {
		s := a.Spec()
		r.Adapter = &s
		r.AdapterName = a.AdapterName()
	}
	if sharded != nil {
		r.ShardError = sharded.Error()
	}

	// Output.

	if inJson {
		enc := json.NewEncoder(os.Stdout)
		if inPrettyJson {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(r); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to encode JSON: %s\n", err.Error())
			os.Exit(1)
		}
		return
	}

	BytesScalarStringInMiBytes = inMib

	tprint(
		"MODEL",
		[]string{"Name", "Arch", "Atomic Units", "Parameters", "Size"},
		[]string{
			r.Name,
			r.Architecture,
			r.AtomicUnits.String(),
			r.Parameters.String(),
			r.Size.String(),
		})

	if r.Adapter != nil {
		tprint(
			"ADAPTER",
			[]string{"Package", "Method", "Name", "Trainable", "All", "Trainable %"},
			[]string{
				string(r.Adapter.Backend),
				string(r.Adapter.Method),
				r.AdapterName,
				r.Trainable.Trainable.String(),
				r.Trainable.All.String(),
				fmt.Sprintf("%.4f", r.Trainable.Percentage()),
			})
	}

	if !skipShard {
		bds := make([][]string, 0, len(r.Devices))
		for _, u := range r.Devices {
			bds = append(bds, []string{u.ID, u.Capacity.String(), u.Assigned.String(), fmt.Sprint(u.Modules)})
		}
		if r.ShardError != "" {
			bds = append(bds, []string{"-", "-", "-", r.ShardError})
		}
		tprint(
			"PLACEMENT "+strings.ToUpper(r.Placement),
			[]string{"Device", "Capacity", "Assigned", "Modules"},
			bds...)
	}

	if printModel {
		_ = am.FprintModelMap(os.Stdout)
	}
}

type (
	result struct {
		Name         string           `json:"name,omitempty"`
		Architecture string           `json:"architecture"`
		AtomicUnits  AtomicUnits      `json:"atomicUnits"`
		Parameters   ParametersScalar `json:"parameters"`
		Size         BytesScalar      `json:"size"`
		Adapter      *AdaptationSpec  `json:"adapter,omitempty"`
		AdapterName  string           `json:"adapterName,omitempty"`
		Trainable    TrainableSummary `json:"trainable"`
		Placement    string           `json:"placement"`
		DeviceMap    DeviceMap        `json:"deviceMap,omitempty"`
		Devices      []usage          `json:"devices,omitempty"`
		ShardError   string           `json:"shardError,omitempty"`
	}

	usage struct {
		ID       string      `json:"id"`
		Capacity BytesScalar `json:"capacity"`
		Assigned BytesScalar `json:"assigned"`
		Modules  int         `json:"modules"`
	}
)

// usages sums the assigned bytes of every device.
func usages(am *AdapterModel) []usage {
	us := make([]usage, len(am.Devices()))
	idx := make(map[string]int, len(us))
	for i, d := range am.Devices() {
		us[i] = usage{ID: d.ID, Capacity: d.Memory}
		idx[d.ID] = i
	}
	for _, a := range am.DeviceMap() {
		if i, ok := idx[a.Device]; ok {
			us[i].Modules++
		}
	}
	for _, np := range am.Model().Root().NamedParameters() {
		if i, ok := idx[np.Device]; ok {
			us[i].Assigned += BytesScalar(np.Value.Bytes())
		}
	}
	return us
}

func tprint(title string, header []string, body ...[]string) {
	title = strings.ToUpper(title)

	tb := tablewriter.NewWriter(os.Stdout)

	tb.SetTablePadding("\t")
	tb.SetAlignment(tablewriter.ALIGN_CENTER)
	tb.SetHeaderLine(true)
	tb.SetRowLine(true)

	tb.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	tb.SetAutoFormatHeaders(false)
	tb.SetHeader(append([]string{"\\"}, header...))

	tb.SetAutoWrapText(false)
	tb.SetColMinWidth(0, 12)
	tb.SetAutoMergeCellsByColumnIndex([]int{0})
	for i := range body {
		tb.Append(append([]string{title}, body[i]...))
	}

	tb.Render()
	fmt.Println()
}
