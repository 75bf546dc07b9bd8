// Command boxlic manages the device identity and license lifecycle of a
// streaming box: fingerprinting, box-id assignment, activation, and the
// periodic revalidation daemon with its local read-only API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"boxlic/internal/client"
	"boxlic/internal/config"
	apperrors "boxlic/internal/errors"
	"boxlic/internal/fingerprint"
	"boxlic/internal/identity"
	"boxlic/internal/infrastructure"
	"boxlic/internal/store"
	transporthttp "boxlic/internal/transport/http"
	"boxlic/internal/validator"
	"boxlic/pkg/contracts/domain"
)

const activateMaxAttempts = 3

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "boxlic: %v\n", err)
		os.Exit(1)
	}
	logger := infrastructure.InitializeLogger(cfg.Logging)

	app := newApplication(cfg, logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "boxlic: %v\n", err)
		if apperrors.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "the license server is unreachable; try again later")
		}
		if apperrors.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: boxlic <command> [arguments]

Commands:
  hardware-id [-v]  print the hardware fingerprint (-v adds source attributes)
  lookup-box-id     look up the box id registered for this hardware
  register          register this box with the license server
  activate [key]    redeem a license key (prompts when omitted)
  status            print the current license status
  features [name]   print entitled features, or test one (non-zero if absent)
  validate          run one revalidation cycle now
  rebind-hardware   re-bind the box id to the current hardware
  serve             run the revalidation daemon and local API
  help              print this help
`)
}

// application wires the packages together for the CLI commands.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	client    *client.Client
	fp        *fingerprint.Fingerprinter
	resolver  *identity.Resolver
	validator *validator.Validator
	registry  *prometheus.Registry
}

func newApplication(cfg *config.Config, logger *slog.Logger) *application {
	st := store.New(cfg.IdentityFile(), cfg.LicenseFile())
	cl := client.New(cfg.License)
	fp := fingerprint.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &application{
		cfg:    cfg,
		logger: logger,
		store:  st,
		client: cl,
		fp:     fp,
		resolver: identity.NewResolver(identity.Options{
			Store:            st,
			Client:           cl,
			Fingerprinter:    fp,
			CachePath:        cfg.Paths.BoxIDCache,
			LicenseURL:       cfg.License.ServerURL,
			InstallerVersion: cfg.License.ClientVersion,
			RebindCooldown:   cfg.Validation.RebindCooldown,
		}),
		validator: validator.New(validator.Options{
			Store:         st,
			Client:        cl,
			Fingerprinter: fp,
			Metrics:       validator.NewMetrics(registry),
		}),
		registry: registry,
	}
}

func (a *application) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "hardware-id":
		return a.hardwareID(args)
	case "lookup-box-id":
		return a.lookupBoxID(ctx)
	case "register":
		return a.register(ctx)
	case "activate":
		return a.activate(ctx, args)
	case "status":
		return a.status()
	case "features":
		return a.features(args)
	case "validate":
		return a.validate(ctx)
	case "rebind-hardware":
		return a.rebindHardware(ctx)
	case "serve":
		return a.serve(ctx)
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *application) hardwareID(args []string) error {
	fs := flag.NewFlagSet("hardware-id", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "print the source attributes feeding the digest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := a.fp.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Println(id)

	if *verbose {
		components := a.fp.Components()
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %s\n", name, components[name])
		}
	}
	return nil
}

// lookupBoxID queries the server-side mapping only; it neither reads the
// local cache nor generates a new id.
func (a *application) lookupBoxID(ctx context.Context) error {
	hardwareID, err := a.fp.Fingerprint()
	if err != nil {
		return err
	}
	boxID, err := a.client.LookupByHardware(ctx, hardwareID)
	if err != nil {
		return err
	}
	fmt.Println(boxID)
	return nil
}

func (a *application) register(ctx context.Context) error {
	identity, err := a.resolver.Register(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s\n", identity.BoxID)
	return nil
}

// activate redeems the key given on the command line, or prompts for one
// interactively with up to three attempts on rejection.
func (a *application) activate(ctx context.Context, args []string) error {
	if len(args) > 0 {
		record, err := a.validator.Activate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("license %s, tier %s\n", record.Status, record.Tier)
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for attempt := 1; attempt <= activateMaxAttempts; attempt++ {
		fmt.Print("Enter license key: ")
		if !scanner.Scan() {
			return fmt.Errorf("no license key entered")
		}
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}

		record, err := a.validator.Activate(ctx, key)
		switch {
		case err == nil:
			fmt.Printf("license %s, tier %s\n", record.Status, record.Tier)
			return nil
		case errors.Is(err, apperrors.ErrInvalidLicense):
			fmt.Fprintf(os.Stderr, "license key rejected (%d/%d)\n", attempt, activateMaxAttempts)
		default:
			return err
		}
	}
	return apperrors.ErrInvalidLicense
}

func (a *application) status() error {
	identity, err := a.store.ReadIdentity()
	if err != nil {
		return fmt.Errorf("no device identity, run register first: %w", err)
	}

	record, err := a.store.ReadLicense()
	if errors.Is(err, apperrors.ErrNotFound) {
		fmt.Printf("box:     %s\nstatus:  %s\n", identity.BoxID, domain.LicenseStatusInactive)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("box:     %s\nstatus:  %s\n", identity.BoxID, record.Status)
	if record.Tier != "" {
		fmt.Printf("tier:    %s\n", record.Tier)
	}
	if !record.LastValidated.IsZero() {
		fmt.Printf("checked: %s\n", record.LastValidated.Format("2006-01-02 15:04:05 MST"))
	}
	if record.Status == domain.LicenseStatusGrace {
		fmt.Printf("grace:   %dh window\n", record.GracePeriodHours)
	}
	return nil
}

// features lists the entitlements, or with a name argument tests a single
// flag so scripts can gate on the exit code.
func (a *application) features(args []string) error {
	record, err := a.store.ReadLicense()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		name := args[0]
		if !record.HasFeature(name) {
			return fmt.Errorf("feature %q is not entitled", name)
		}
		fmt.Printf("%s: entitled\n", name)
		return nil
	}

	if !record.Status.Licensed() {
		fmt.Println("(none: license is not active)")
		return nil
	}
	for _, feature := range record.Features {
		fmt.Println(feature)
	}
	return nil
}

// validate runs one cycle and exits non-zero when the box ends up
// unlicensed, so a timer unit can alert on the exit code.
func (a *application) validate(ctx context.Context) error {
	record, err := a.validator.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", record.Status)
	if !record.Status.Licensed() {
		return fmt.Errorf("license is %s", record.Status)
	}
	return nil
}

func (a *application) rebindHardware(ctx context.Context) error {
	identity, err := a.resolver.RebindHardware(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("box %s bound to hardware %s\n", identity.BoxID, identity.HardwareID)
	return nil
}

// serve runs the revalidation scheduler and the local read-only API until
// interrupted. Identity resolution happens first so the daemon always has a
// box id to heartbeat with.
func (a *application) serve(ctx context.Context) error {
	identity, err := a.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve device identity: %w", err)
	}
	a.logger.Info("starting daemon",
		slog.String("box_id", identity.BoxID),
		slog.Duration("interval", a.cfg.Validation.Interval),
	)

	scheduler := validator.NewScheduler(
		a.validator,
		a.cfg.Validation.Interval,
		a.cfg.Validation.CycleTimeout,
	)
	server := transporthttp.NewServer(a.cfg.Server, a.store, a.registry, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	return g.Wait()
}
