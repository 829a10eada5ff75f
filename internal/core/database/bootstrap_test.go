package db

import (
	"regexp"
	"strings"
	"testing"
)

func TestInitScript_ReplayableAndUnstamped(t *testing.T) {
	script, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		t.Fatal(err)
	}
	sql := strings.ToUpper(string(script))

	for _, table := range []string{"EXTRACTA_META", "EXTRACTION_RUNS"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("script does not create %s", table)
		}
	}

	create := regexp.MustCompile(`CREATE\s+(?:UNIQUE\s+)?(TABLE|INDEX)\s+(\S+\s+\S+\s+\S+)`)
	for _, m := range create.FindAllStringSubmatch(sql, -1) {
		if !strings.HasPrefix(m[2], "IF NOT EXISTS") {
			t.Errorf("CREATE %s %s is not replayable", m[1], m[2])
		}
	}
	for _, stmt := range []string{"DROP ", "TRUNCATE ", "INSERT INTO EXTRACTA_META"} {
		if strings.Contains(sql, stmt) {
			t.Errorf("script must not contain %q; the version stamp is written by applySchema", stmt)
		}
	}
}
