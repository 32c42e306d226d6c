package model

import "time"

// VerifyScope — область проверки целостности.
type VerifyScope string

const (
	// ScopeAll — все активы архива
	ScopeAll VerifyScope = "all"
	// ScopeSubset — явно переданный список активов
	ScopeSubset VerifyScope = "subset"
)

// VerifyStatus — результат проверки одного актива.
type VerifyStatus string

const (
	StatusVerified  VerifyStatus = "verified"
	StatusCorrupted VerifyStatus = "corrupted"
	StatusMissing   VerifyStatus = "missing"
	StatusError     VerifyStatus = "error"
)

// VerifyIssue — ошибка чтения при проверке актива.
type VerifyIssue struct {
	AssetID string `json:"asset_id,omitempty"`
	Path    string `json:"path"`
	Reason  string `json:"reason"`
}

// VerificationReport — результат одного прогона проверки целостности.
// Создаётся заново при каждом прогоне и не сохраняется.
type VerificationReport struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Scope       VerifyScope   `json:"scope"`

	// Total — число активов в рабочем наборе
	Total int `json:"total"`

	Verified  []string `json:"verified"`
	Corrupted []string `json:"corrupted"`
	Missing   []string `json:"missing"`

	// OrphanedRecords — asset_id записей индекса без sidecar-файла
	OrphanedRecords []string `json:"orphaned_records"`
	// OrphanedFiles — archive_path файлов данных без sidecar-файла
	OrphanedFiles []string `json:"orphaned_files"`
	// NotFound — запрошенные идентификаторы, которых нет нигде
	NotFound []string `json:"not_found"`

	Errors []VerifyIssue `json:"errors"`

	// Incomplete — прогон прерван до обработки всего набора
	Incomplete bool `json:"incomplete"`

	BytesHashed int64   `json:"bytes_hashed"`
	Throughput  float64 `json:"throughput_bytes_per_sec"`
}

// ReportSummary — сводка отчёта по классам.
type ReportSummary struct {
	Total           int  `json:"total"`
	Verified        int  `json:"verified"`
	Corrupted       int  `json:"corrupted"`
	Missing         int  `json:"missing"`
	Errors          int  `json:"errors"`
	OrphanedRecords int  `json:"orphaned_records"`
	OrphanedFiles   int  `json:"orphaned_files"`
	Incomplete      bool `json:"incomplete"`
}

// Summary возвращает количество активов в каждом классе.
func (r *VerificationReport) Summary() ReportSummary {
	return ReportSummary{
		Total:           r.Total,
		Verified:        len(r.Verified),
		Corrupted:       len(r.Corrupted),
		Missing:         len(r.Missing),
		Errors:          len(r.Errors),
		OrphanedRecords: len(r.OrphanedRecords),
		OrphanedFiles:   len(r.OrphanedFiles),
		Incomplete:      r.Incomplete,
	}
}

// Classified возвращает число активов, получивших класс.
func (r *VerificationReport) Classified() int {
	return len(r.Verified) + len(r.Corrupted) + len(r.Missing) + len(r.Errors)
}

// Clean возвращает true, если расхождений не найдено.
func (r *VerificationReport) Clean() bool {
	return !r.Incomplete && len(r.Corrupted) == 0 && len(r.Missing) == 0 &&
		len(r.Errors) == 0 && len(r.OrphanedRecords) == 0 && len(r.OrphanedFiles) == 0
}
