package history

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id             string
		operation      string
		filesJSON      string
		format         string
		output         string
		status         string
		resultStatus   sql.NullString
		message        sql.NullString
		outputsJSON    string
		errorMessage   sql.NullString
		exitCode       sql.NullInt64
		interpreter    sql.NullString
		workerEntry    sql.NullString
		bundled        int
		progressEvents int
		startedRaw     string
		finishedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&operation,
		&filesJSON,
		&format,
		&output,
		&status,
		&resultStatus,
		&message,
		&outputsJSON,
		&errorMessage,
		&exitCode,
		&interpreter,
		&workerEntry,
		&bundled,
		&progressEvents,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:             id,
		Operation:      operation,
		Files:          decodeList(filesJSON),
		Format:         format,
		Output:         output,
		Status:         Status(status),
		ResultStatus:   resultStatus.String,
		Message:        message.String,
		Outputs:        decodeList(outputsJSON),
		ErrorMessage:   errorMessage.String,
		Interpreter:    interpreter.String,
		WorkerEntry:    workerEntry.String,
		BundledRuntime: bundled != 0,
		ProgressEvents: progressEvents,
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if ts, err := parseTimeString(startedRaw); err == nil {
		rec.StartedAt = ts
	}
	if finishedRaw.Valid {
		if ts, err := parseTimeString(finishedRaw.String); err == nil {
			rec.FinishedAt = ts
		}
	}
	return rec, nil
}

func decodeList(raw string) []string {
	values := []string{}
	if strings.TrimSpace(raw) == "" {
		return values
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil || values == nil {
		return []string{}
	}
	return values
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Timestamps are stored as fixed-width UTC text so ORDER BY sorts them.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if ts, err := time.Parse(timeLayout, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
