package webapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/id"
	"eeprom-spoofer/internal/services/spoofer"
)

type jobManager struct {
	mu   sync.Mutex
	jobs map[string]*spoofJob
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*spoofJob)}
}

// spoofJob 是一次后台写入任务；Stage/Progress/Logs 供前端控制台展示。
type spoofJob struct {
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"` // running|success|failed
	CreatedAt  int64  `json:"created_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`

	Stage    string       `json:"stage,omitempty"`
	Progress int          `json:"progress"`
	Logs     []jobLogLine `json:"logs,omitempty"`

	Target  string              `json:"target"`
	DryRun  bool                `json:"dry_run"`
	Outcome *model.SpoofOutcome `json:"outcome,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

type jobLogLine struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

func (m *jobManager) put(job *spoofJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
}

// update 在锁内修改 job，避免与读取方竞争。
func (m *jobManager) update(job *spoofJob, fn func(j *spoofJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func copyJob(j *spoofJob) spoofJob {
	cpy := *j
	if len(cpy.Logs) > 0 {
		cpy.Logs = append([]jobLogLine(nil), cpy.Logs...)
	}
	return cpy
}

func (m *jobManager) getCopy(jobID string) (spoofJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j == nil {
		return spoofJob{}, false
	}
	return copyJob(j), true
}

func (m *jobManager) listCopies() []spoofJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]spoofJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j != nil {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt > out[k].CreatedAt })
	return out
}

// POST /api/jobs/spoof {"target":"2001:3C05","dry_run":false}
func (s *Server) handleJobSpoof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, target, err := decodeTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	analysis := s.device.analysis()
	if analysis == nil {
		writeError(w, http.StatusConflict, errNoAnalysis)
		return
	}
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "operator"
	}

	now := time.Now().Unix()
	job := &spoofJob{
		JobID:     id.New("job"),
		Kind:      "spoof",
		Status:    "running",
		CreatedAt: now,
		Stage:     string(spoofer.StateValidating),
		Target:    target.String(),
		DryRun:    req.DryRun,
		Logs:      []jobLogLine{{Time: now, Message: "job created"}},
	}
	s.jobs.put(job)
	resp := copyJob(job)

	go s.runSpoofJob(job, analysis, target, operator)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runSpoofJob(job *spoofJob, analysis *model.AnalysisResult, target model.Identity, operator string) {
	ctx := context.Background()
	progress := func(p spoofer.Progress) {
		s.jobs.update(job, func(j *spoofJob) {
			j.Stage = string(p.State)
			j.Progress = int(p.Percentage)
			j.Logs = append(j.Logs, jobLogLine{Time: time.Now().Unix(), Message: fmt.Sprintf("[%d/%d] %s: %s", p.Step, p.TotalSteps, p.State, p.Message)})
		})
	}

	var out *model.SpoofOutcome
	err := s.device.with(ctx, func(t transport.Transport) error {
		w := spoofer.New(t, s.backups,
			spoofer.WithLogger(s.opts.Logger),
			spoofer.WithMetrics(s.opts.Metrics),
			spoofer.WithAudit(s.store, operator, "webapp"),
		)
		var err error
		out, err = w.PerformSpoof(ctx, analysis, target, spoofer.WithDryRun(job.DryRun), spoofer.WithProgress(progress))
		if err == nil && !job.DryRun {
			// 身份已改变，旧分析作废。
			s.device.last = nil
		}
		return err
	})

	s.jobs.update(job, func(j *spoofJob) {
		j.Outcome = out
		j.FinishedAt = time.Now().Unix()
		if err == nil {
			j.Status = "success"
			j.Progress = 100
			j.Logs = append(j.Logs, jobLogLine{Time: j.FinishedAt, Message: "job success"})
			return
		}
		j.Status = "failed"
		j.Error = err.Error()
		var fe *fault.Error
		if errors.As(err, &fe) {
			j.ErrorKind = fe.Kind.String()
			j.Severity = string(fe.Severity())
		}
		j.Logs = append(j.Logs, jobLogLine{Time: j.FinishedAt, Message: "job failed: " + err.Error()})
	})
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if rest == "" {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.listCopies()})
		return
	}
	job, ok := s.jobs.getCopy(rest)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found: %s", rest))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
