// Package handlers holds the job handlers compiled into the runner.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openjobspec/ojs-jobrunner/internal/batch"
	"github.com/openjobspec/ojs-jobrunner/internal/core"
	"github.com/openjobspec/ojs-jobrunner/internal/sandbox"
)

const logTestInsert = "insert into logtest(Code,Type,Message,Account,CreateTime) values"

// LogTest turns log records into one multi-row insert for the logtest
// table. Only records carrying a Code field take part; when none do, or
// the input is not a sequence, it returns "".
func LogTest(_ context.Context, env *sandbox.Env, records core.Batch) (string, error) {
	if records == nil || !batch.IsSequence(records) {
		return "", nil
	}

	rows := make([]string, 0, len(records))
	for _, rec := range records {
		if !batch.IsRecord(rec) || !rec.Has("Code") {
			continue
		}
		rows = append(rows, logTestRow(env, rec))
	}
	if len(rows) == 0 {
		return "", nil
	}
	return logTestInsert + strings.Join(rows, ",") + ";", nil
}

func logTestRow(env *sandbox.Env, rec core.Record) string {
	// Code never carries quotes; they are stripped rather than escaped.
	code := strings.ReplaceAll(text(rec["Code"]), "'", "")

	var created any
	if s, ok := rec.String("CreateTime"); ok {
		created = env.Date(s)
	} else {
		created = rec["CreateTime"]
	}

	return "(" + strings.Join([]string{
		env.Quote(code),
		env.Quote(rec["Type"]),
		env.Quote(rec["Message"]),
		env.Quote(rec["Account"]),
		env.Quote(created),
	}, ",") + ")"
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
