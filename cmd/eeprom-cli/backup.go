package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/backupexport"
)

// runBackup 是 backup 子命令路由。
func runBackup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printBackupUsage()
		return nil
	}

	switch args[0] {
	case "create":
		return runBackupCreate(ctx, args[1:])
	case "list":
		return runBackupList(ctx, args[1:])
	case "verify":
		return runBackupVerify(ctx, args[1:])
	case "restore-identity":
		return runBackupRestore(ctx, args[1:])
	case "migrate-digests":
		return runBackupMigrate(ctx, args[1:])
	case "export":
		return runBackupExport(ctx, args[1:])
	default:
		printBackupUsage()
		return fmt.Errorf("unknown backup command: %s", args[0])
	}
}

func printBackupUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eeprom-cli backup create [--simulate] [--device VID:PID] [--operator name]")
	fmt.Println("  eeprom-cli backup list [--db path]")
	fmt.Println("  eeprom-cli backup verify --id BACKUP_ID")
	fmt.Println("  eeprom-cli backup restore-identity --id BACKUP_ID [--simulate] [--device VID:PID]")
	fmt.Println("  eeprom-cli backup migrate-digests [--db path]")
	fmt.Println("  eeprom-cli backup export [--ids id1,id2] [--export-dir path] [--note text] [--privacy-mode off|masked]")
}

func runBackupCreate(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup create")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withDevice(ctx, o, func(s *session, t transport.Transport) error {
		ident, err := t.CurrentIdentity(ctx)
		if err != nil {
			return err
		}
		dev := model.DeviceInfo{Identity: ident, Chipset: analyzer.ChipsetVersion(ident.ProductID)}
		if spec, ok := s.registry.Lookup(ident.VendorID, ident.ProductID); ok {
			dev.Name = spec.Name
		}
		b, err := s.backups.CreateBackup(ctx, t, dev)
		if err != nil {
			return err
		}
		fmt.Println("backup created")
		fmt.Printf("backup_id=%s identity=%s size=%d md5=%s sha256=%s file=%s\n", b.ID, b.Identity(), b.DeclaredSize, b.MD5, b.SHA256, orDash(b.FilePath))
		return nil
	})
}

// runBackupList 列出全部备份并逐条重算完整性。
func runBackupList(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup list")
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

	list, err := s.backups.ListWithIntegrity(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(list)
	}
	fmt.Printf("backups total=%d\n", len(list))
	for _, item := range list {
		b := item.Backup
		fmt.Printf("%s %s %-9s schema=v%d size=%s created=%s name=%q\n",
			b.ID, b.Identity(), item.Check.Status, b.SchemaVersion,
			humanize.Bytes(uint64(b.DeclaredSize)), humanize.Time(time.Unix(b.CreatedAt, 0)), b.DeviceName,
		)
	}
	return nil
}

func backupID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", errors.New("--id is required")
	}
	return id, nil
}

func runBackupVerify(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup verify")
	if err != nil {
		return err
	}
	rawID := fs.String("id", "", "backup id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := backupID(*rawID)
	if err != nil {
		return err
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.backups.VerifyByID(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println("backup integrity check completed")
	fmt.Printf("backup_id=%s status=%s size=%t format=%t md5=%t sha256=%t\n", res.BackupID, res.Status, res.SizeValid, res.FormatValid, res.MD5Valid, res.SHA256Valid)
	fmt.Printf("details=%q\n", res.Details)
	if res.Status != model.IntegrityValid {
		return fmt.Errorf("backup %s is %s", id, res.Status)
	}
	return nil
}

// runBackupRestore 只写回身份字节；完整性不是 valid 时在触碰设备前拒绝。
func runBackupRestore(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup restore-identity")
	if err != nil {
		return err
	}
	rawID := fs.String("id", "", "backup id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := backupID(*rawID)
	if err != nil {
		return err
	}
	return withDevice(ctx, o, func(s *session, t transport.Transport) error {
		res, err := s.backups.RestoreIdentityOnly(ctx, t, id)
		if err != nil {
			return err
		}
		fmt.Println("identity restored")
		fmt.Printf("backup_id=%s identity=%s verified=%t\n", res.BackupID, res.Identity, res.Verified)
		for _, c := range res.Changes {
			fmt.Printf("0x%03X: %02X -> %02X\n", c.Offset, c.Old, c.New)
		}
		return nil
	})
}

func runBackupMigrate(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup migrate-digests")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.backups.MigrateLegacyDigests(ctx)
	if err != nil {
		return err
	}
	fmt.Println("backup digest migration completed")
	fmt.Printf("scanned=%d migrated=%d skipped=%d\n", rep.Scanned, rep.Migrated, len(rep.Skipped))
	for id, reason := range rep.Skipped {
		fmt.Printf("SKIP backup_id=%s reason=%q\n", id, reason)
	}
	return nil
}

// runBackupExport 打包备份为 ZIP（含 manifest.json 与 hashes.sha256）。
func runBackupExport(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("backup export")
	if err != nil {
		return err
	}
	ids := fs.String("ids", "", "comma separated backup ids (default: all)")
	note := fs.String("note", "", "export note")
	privacyMode := fs.String("privacy-mode", "off", "privacy mode: off|masked")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var selected []string
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			selected = append(selected, id)
		}
	}
	res, err := backupexport.Generate(ctx, s.store, s.backups, backupexport.Options{
		ExportDir:   s.cfg.ExportDir,
		BackupIDs:   selected,
		Operator:    s.operator,
		Note:        *note,
		PrivacyMode: *privacyMode,
	})
	if err != nil {
		return err
	}
	fmt.Println("backup export generated")
	fmt.Printf("report_id=%s zip=%s sha256=%s backups=%d\n", res.ReportID, res.ZipPath, res.ZipSHA256, res.BackupCount)
	for _, w := range res.Warnings {
		fmt.Printf("WARN %s\n", w)
	}
	return nil
}
