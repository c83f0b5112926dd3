package webapp

import (
	"net/http"
	"time"

	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/model"
)

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dbSchema, _ := s.store.GetSchemaMetaValue(r.Context(), "db_schema_version")
	backupSchema, _ := s.store.GetSchemaMetaValue(r.Context(), "backup_schema_current")
	catalogVer, catalogSHA := s.registry.Catalog()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().Unix(),
		"app": map[string]any{
			"version":    app.Version,
			"commit":     app.Commit,
			"build_time": app.BuildTime,
		},
		"db": map[string]any{
			"schema_version":        dbSchema,
			"backup_schema_current": backupSchema,
			"path":                  s.opts.Config.DBPath,
		},
		"registry": map[string]any{
			"adapters":        len(s.registry.All()),
			"whitelisted":     len(s.registry.Whitelisted()),
			"catalog_path":    s.opts.Config.CatalogPath,
			"catalog_version": catalogVer,
			"catalog_sha256":  catalogSHA,
		},
		"device": map[string]any{
			"simulate":         s.opts.Config.Simulate,
			"backup_schema":    model.BackupSchemaCurrent,
			"analysis_present": s.device.analysis() != nil,
		},
	})
}
