package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cybershield/custody/pkg/config"
	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/court"
	"github.com/cybershield/custody/pkg/crypto"
	"github.com/cybershield/custody/pkg/custody"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "collect":
		return runCollect(args[2:], stdout, stderr)
	case "custody":
		return runCustody(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "format-court":
		return runFormatCourt(args[2:], stdout, stderr)
	case "inspect-package":
		return runInspectPackage(args[2:], stdout, stderr)
	case "summary":
		return runSummary(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: custody <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init             Create a signing keystore")
	fmt.Fprintln(w, "  collect          Bring an evidence item under custody (--case, --payload, --by, ...)")
	fmt.Fprintln(w, "  custody          Append a custody event (--evidence, --actor, --action, ...)")
	fmt.Fprintln(w, "  verify           Run integrity verification (--evidence, --json)")
	fmt.Fprintln(w, "  format-court     Build a court submission package (--evidence, --court, ...)")
	fmt.Fprintln(w, "  inspect-package  Verify a court package offline (--package, --json)")
	fmt.Fprintln(w, "  summary          Print an evidence store summary")
}

func openService(ctx context.Context, errOut io.Writer) (*custody.Service, func() error, bool) {
	svc, closeFn, err := custody.Open(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return nil, nil, false
	}
	return svc, closeFn, true
}

func runInit(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	keyID := cmd.String("key-id", "custody-signing-key", "Key identifier")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	signer, err := crypto.WriteKeystore(cfg.KeystorePath, *keyID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Keystore created: %s\n", cfg.KeystorePath)
	fmt.Fprintf(stdout, "Public key: %s\n", signer.PublicKey())
	return 0
}

func runCollect(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("collect", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		caseNumber  = cmd.String("case", "", "Case number (REQUIRED)")
		payloadPath = cmd.String("payload", "", "Path to the source payload JSON (REQUIRED)")
		collectedBy = cmd.String("by", "", "Collecting officer (REQUIRED)")
		location    = cmd.String("location", "", "Collection location (REQUIRED)")
		description = cmd.String("description", "", "Evidence description (REQUIRED)")
		files       = cmd.String("files", "", "Comma-separated attachment paths")
		jsonOut     = cmd.Bool("json", false, "Output result as JSON")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *caseNumber == "" || *payloadPath == "" || *collectedBy == "" || *location == "" || *description == "" {
		fmt.Fprintln(stderr, "Error: --case, --payload, --by, --location, and --description are required")
		cmd.Usage()
		return 2
	}

	raw, err := os.ReadFile(*payloadPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading payload: %v\n", err)
		return 1
	}
	var payload contracts.SourcePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		fmt.Fprintf(stderr, "Error parsing payload: %v\n", err)
		return 1
	}

	ctx := context.Background()
	svc, closeFn, ok := openService(ctx, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = closeFn() }()

	var paths []string
	if *files != "" {
		paths = strings.Split(*files, ",")
	}
	record, err := svc.Collect(ctx, custody.CollectRequest{
		CaseNumber:  *caseNumber,
		Payload:     &payload,
		CollectedBy: *collectedBy,
		Location:    *location,
		Description: *description,
		FilePaths:   paths,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(stdout, record)
		return 0
	}
	fmt.Fprintf(stdout, "Evidence collected: %s\n", record.EvidenceID)
	fmt.Fprintf(stdout, "Fingerprint: %s\n", record.OriginalFingerprint)
	return 0
}

func runCustody(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("custody", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		evidenceID = cmd.String("evidence", "", "Evidence ID (REQUIRED)")
		actorID    = cmd.String("actor", "", "Actor ID (REQUIRED)")
		actorName  = cmd.String("actor-name", "", "Actor display name")
		action     = cmd.String("action", "", "Custody action (REQUIRED)")
		location   = cmd.String("location", "", "Location of the event")
		notes      = cmd.String("notes", "", "Free-form notes")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *evidenceID == "" || *actorID == "" || *action == "" {
		fmt.Fprintln(stderr, "Error: --evidence, --actor, and --action are required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	svc, closeFn, ok := openService(ctx, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = closeFn() }()

	entry, err := svc.AppendCustody(ctx, custody.CustodyRequest{
		EvidenceID: *evidenceID,
		ActorID:    *actorID,
		ActorName:  *actorName,
		Action:     contracts.Action(strings.ToUpper(*action)),
		Location:   *location,
		Notes:      *notes,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Custody entry %d appended (%s)\n", entry.Sequence, entry.EntryHash)
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		evidenceID = cmd.String("evidence", "", "Evidence ID (REQUIRED)")
		actorID    = cmd.String("actor", "", "Actor recording the verification")
		jsonOut    = cmd.Bool("json", false, "Output result as JSON")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *evidenceID == "" {
		fmt.Fprintln(stderr, "Error: --evidence is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	svc, closeFn, ok := openService(ctx, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = closeFn() }()

	report, err := svc.VerifyIntegrity(ctx, *evidenceID, *actorID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(stdout, report)
	} else {
		fmt.Fprintf(stdout, "Integrity score: %.2f (%d/%d checks passed)\n",
			report.IntegrityScore, report.ChecksPassed, report.TotalChecks)
		for name, ok := range report.Checks {
			fmt.Fprintf(stdout, "  %-18s %v\n", name, ok)
		}
		if report.Questionable {
			fmt.Fprintln(stdout, "Status: QUESTIONABLE")
		} else {
			fmt.Fprintln(stdout, "Status: VERIFIED")
		}
	}
	if report.Questionable {
		return 1
	}
	return 0
}

func runFormatCourt(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("format-court", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		evidenceID = cmd.String("evidence", "", "Evidence ID (REQUIRED)")
		courtName  = cmd.String("court", "", "Court name (REQUIRED)")
		judge      = cmd.String("judge", "", "Judge name")
		prosecutor = cmd.String("prosecutor", "", "Prosecutor name")
		prosID     = cmd.String("prosecutor-id", "", "Prosecutor ID")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *evidenceID == "" || *courtName == "" {
		fmt.Fprintln(stderr, "Error: --evidence and --court are required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	svc, closeFn, ok := openService(ctx, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = closeFn() }()

	path, err := svc.FormatForCourt(ctx, *evidenceID, contracts.CourtDetails{
		CourtName:      *courtName,
		JudgeName:      *judge,
		ProsecutorName: *prosecutor,
		ProsecutorID:   *prosID,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Court package created: %s\n", path)
	return 0
}

func runInspectPackage(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect-package", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		pkgPath = cmd.String("package", "", "Path to a court package zip (REQUIRED)")
		jsonOut = cmd.Bool("json", false, "Output result as JSON")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *pkgPath == "" {
		fmt.Fprintln(stderr, "Error: --package is required")
		cmd.Usage()
		return 2
	}

	result, err := court.InspectPackage(*pkgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(stdout, result)
	} else {
		fmt.Fprintf(stdout, "Package: %s\n", result.PackagePath)
		fmt.Fprintf(stdout, "Format version: %s\n", result.FormatVersion)
		fmt.Fprintf(stdout, "Evidence: %s\n", result.EvidenceID)
		if result.Verified {
			fmt.Fprintln(stdout, "Integrity: OK")
		} else {
			fmt.Fprintln(stdout, "Integrity: FAILED")
			for _, issue := range result.Issues {
				fmt.Fprintf(stdout, "  %s\n", issue)
			}
		}
	}
	if !result.Verified {
		return 1
	}
	return 0
}

func runSummary(stdout, stderr io.Writer) int {
	ctx := context.Background()
	svc, closeFn, ok := openService(ctx, stderr)
	if !ok {
		return 1
	}
	defer func() { _ = closeFn() }()

	sum, err := svc.Summary(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, sum)
	return 0
}

func printJSON(w io.Writer, v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}
