package webapp

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/services/backupstore"
)

// 下载前都会复核内容：磁盘上的文件与登记的摘要/载荷不一致时返回 409。

func attachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

// serveBackupCopy 下发备份的二进制副本，副本必须与库中十六进制载荷逐字节一致。
func serveBackupCopy(w http.ResponseWriter, r *http.Request, b model.Backup) {
	raw, err := backupstore.ReadBinaryCopy(b)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, os.ErrNotExist) || b.FilePath == "" {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	attachment(w, "backup_"+b.ID+".bin")
	w.Header().Set("X-Backup-SHA256", b.SHA256)
	http.ServeContent(w, r, b.ID+".bin", time.Unix(b.CreatedAt, 0), bytes.NewReader(raw))
}

// serveReport 下发报告文件，文件 sha256 必须与 reports 表登记值一致。
func serveReport(w http.ResponseWriter, r *http.Request, info model.ReportInfo) {
	sum, _, err := hash.File(info.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("report %s: %w", info.ReportID, err))
		return
	}
	if !hash.Equal(sum, info.SHA256) {
		writeError(w, http.StatusConflict, fmt.Errorf("report %s changed on disk (registered %s, now %s)", info.ReportID, info.SHA256, sum))
		return
	}
	attachment(w, "report_"+info.ReportID+filepath.Ext(info.FilePath))
	http.ServeFile(w, r, info.FilePath)
}
