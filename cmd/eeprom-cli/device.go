package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/devicereport"
	"eeprom-spoofer/internal/services/diagnostics"
	"eeprom-spoofer/internal/services/spoofer"
)

// withDevice 打开会话与设备后执行 fn，结束时统一释放。
func withDevice(ctx context.Context, o *options, fn func(s *session, t transport.Transport) error) error {
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.openDevice(ctx)
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(s, t)
}

func (s *session) analyze(ctx context.Context, t transport.Transport) (*model.AnalysisResult, error) {
	return analyzer.New(s.registry, analyzer.WithLogger(s.log)).Analyze(ctx, t)
}

func parseTarget(raw string) (model.Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Identity{}, errors.New("--target is required")
	}
	target, err := model.ParseIdentity(raw)
	if err != nil {
		return model.Identity{}, fmt.Errorf("--target: %w", err)
	}
	return target, nil
}

func runAnalyze(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("analyze")
	if err != nil {
		return err
	}
	asJSON := fs.Bool("json", false, "print json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withDevice(ctx, o, func(s *session, t transport.Transport) error {
		res, err := s.analyze(ctx, t)
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(res)
		}
		printAnalysis(res)
		return nil
	})
}

func printAnalysis(res *model.AnalysisResult) {
	fmt.Println("analysis completed")
	fmt.Printf("device=%s chipset=%s image_size=%d locked=%t\n", res.Device, res.ChipsetVersion, res.Image.Size, res.HasLockedIdentity)
	loc := res.Location
	fmt.Printf("offsets vid=0x%02X/0x%02X pid=0x%02X/0x%02X confidence=%s source=%s\n",
		loc.Offsets.VIDLow, loc.Offsets.VIDHigh, loc.Offsets.PIDLow, loc.Offsets.PIDHigh, loc.Confidence, loc.Source,
	)
	if res.ChecksumOffset != nil {
		fmt.Printf("checksum_offset=0x%02X\n", *res.ChecksumOffset)
	}
	fmt.Printf("compatible=%t reason=%q\n", res.Verdict.Compatible, res.Verdict.Reason)
	for _, w := range res.Verdict.Warnings {
		fmt.Printf("WARN %s\n", w)
	}
	for _, r := range res.Verdict.Recommendations {
		fmt.Printf("HINT %s\n", r)
	}
}

func runPreview(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("preview")
	if err != nil {
		return err
	}
	rawTarget := fs.String("target", "", "target identity VID:PID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := parseTarget(*rawTarget)
	if err != nil {
		return err
	}
	return withDevice(ctx, o, func(s *session, t transport.Transport) error {
		res, err := s.analyze(ctx, t)
		if err != nil {
			return err
		}
		p, err := analyzer.Preview(res, target)
		if err != nil {
			return err
		}
		fmt.Printf("preview before=%s after=%s\n", p.Before, p.After)
		for _, c := range p.Changes {
			fmt.Printf("0x%03X: %02X -> %02X\n", c.Offset, c.Old, c.New)
		}
		return nil
	})
}

// runSpoof 分析设备后执行写入流程，逐步打印进度。
func runSpoof(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("spoof")
	if err != nil {
		return err
	}
	rawTarget := fs.String("target", "", "target identity VID:PID (required)")
	dryRun := fs.Bool("dry-run", false, "backup and plan only, no identity writes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := parseTarget(*rawTarget)
	if err != nil {
		return err
	}

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return withDevice(sigCtx, o, func(s *session, t transport.Transport) error {
		res, err := s.analyze(sigCtx, t)
		if err != nil {
			return err
		}
		w := spoofer.New(t, s.backups,
			spoofer.WithLogger(s.log),
			spoofer.WithMetrics(s.metrics),
			spoofer.WithAudit(s.store, s.operator, "cli"),
		)
		out, err := w.PerformSpoof(sigCtx, res, target,
			spoofer.WithDryRun(*dryRun),
			spoofer.WithProgress(func(p spoofer.Progress) {
				fmt.Printf("[%d/%d] %-17s %3.0f%% %s\n", p.Step, p.TotalSteps, p.State, p.Percentage, p.Message)
			}),
		)
		if out != nil {
			fmt.Printf("session_id=%s success=%t verified=%t dry_run=%t rolled_back=%t backup_id=%s new_identity=%s\n",
				out.SessionID, out.Success, out.VerificationPassed, out.DryRun, out.RolledBack, orDash(out.BackupID), out.NewIdentity,
			)
			for _, c := range out.Changes {
				fmt.Printf("0x%03X: %02X -> %02X\n", c.Offset, c.Old, c.New)
			}
		}
		return err
	})
}

// runDiagnose 对设备做分级探测；打不开设备时输出 unknown 而不是报错。
func runDiagnose(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("diagnose")
	if err != nil {
		return err
	}
	asJSON := fs.Bool("json", false, "print json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	d := diagnostics.New(
		diagnostics.WithCatalog(s.registry),
		diagnostics.WithLogger(s.log),
		diagnostics.WithMetrics(s.metrics),
	)
	var res model.DiagnosticResult
	t, err := s.openDevice(ctx)
	if err != nil {
		s.log.Info("device not available", "err", err)
		res = d.Diagnose(ctx, nil)
	} else {
		defer t.Close()
		res = d.Diagnose(ctx, t)
	}
	if *asJSON {
		return printJSON(res)
	}
	fmt.Printf("diagnosis=%s device=%s detected=%t descriptors=%t readable=%t writable=%t vendor_commands=%t\n",
		res.Diagnosis, res.Device, res.DeviceDetected, res.DescriptorsReadable, res.MemoryReadable, res.MemoryWritable, res.VendorCommandsResponsive,
	)
	for _, i := range res.Issues {
		fmt.Printf("ISSUE %s\n", i)
	}
	for _, r := range res.Recommendations {
		fmt.Printf("HINT %s\n", r)
	}
	return nil
}

// runRecovery 列出恢复手段；不接触设备。
func runRecovery(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("recovery")
	if err != nil {
		return err
	}
	rawIdentity := fs.String("identity", "", "adapter identity VID:PID (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := loadRegistry(ctx, o.cfg.CatalogPath)
	if err != nil {
		return err
	}
	var spec *model.AdapterSpec
	if strings.TrimSpace(*rawIdentity) != "" {
		ident, err := model.ParseIdentity(*rawIdentity)
		if err != nil {
			return fmt.Errorf("--identity: %w", err)
		}
		spec, _ = reg.Lookup(ident.VendorID, ident.ProductID)
	}
	for i, m := range diagnostics.RecoveryMethods(spec) {
		fmt.Printf("%d. %s difficulty=%s hardware=%t success_rate=%.0f%%\n", i+1, m.Name, m.Difficulty, m.RequiresHardware, m.SuccessRate*100)
		for _, step := range m.Steps {
			fmt.Printf("   - %s\n", step)
		}
	}
	return nil
}

func runReport(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "pdf" {
		fmt.Println("Usage:")
		fmt.Println("  eeprom-cli report pdf [--simulate] [--device VID:PID] [--report-dir path] [--operator name] [--note text] [--privacy-mode off|masked]")
		if len(args) == 0 {
			return nil
		}
		return fmt.Errorf("unknown report command: %s", args[0])
	}
	return runReportPDF(ctx, args[1:])
}

// runReportPDF 分析并诊断当前设备，连同备份清单输出 PDF 报告。
func runReportPDF(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("report pdf")
	if err != nil {
		return err
	}
	note := fs.String("note", "", "report note")
	privacyMode := fs.String("privacy-mode", "off", "privacy mode: off|masked")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withDevice(ctx, o, func(s *session, t transport.Transport) error {
		ident, err := t.CurrentIdentity(ctx)
		if err != nil {
			return err
		}
		in := devicereport.Input{Device: ident}
		if res, err := s.analyze(ctx, t); err == nil {
			in.Analysis = res
			in.Recovery = diagnostics.RecoveryMethods(res.Spec)
		} else {
			fmt.Fprintf(os.Stderr, "warning: analysis skipped: %v\n", err)
			spec, _ := s.registry.Lookup(ident.VendorID, ident.ProductID)
			in.Recovery = diagnostics.RecoveryMethods(spec)
		}
		diag := diagnostics.New(diagnostics.WithCatalog(s.registry), diagnostics.WithLogger(s.log)).Diagnose(ctx, t)
		in.Diagnosis = &diag
		if in.Backups, err = s.backups.ListWithIntegrity(ctx); err != nil {
			return err
		}

		res, err := devicereport.Generate(ctx, s.store, in, devicereport.Options{
			ReportDir:   s.cfg.ReportDir,
			Operator:    s.operator,
			Note:        *note,
			PrivacyMode: *privacyMode,
		})
		if err != nil {
			return err
		}
		fmt.Println("device report generated")
		fmt.Printf("report_id=%s pdf=%s sha256=%s\n", res.ReportID, res.PDFPath, res.PDFSHA256)
		for _, w := range res.Warnings {
			fmt.Printf("WARN %s\n", w)
		}
		return nil
	})
}
