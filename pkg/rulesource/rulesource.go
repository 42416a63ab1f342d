// pkg/rulesource/rulesource.go
// Package rulesource loads a classifier rule array out of a SQLite
// database. It stands in for the rule-source administrative surface the
// specification calls an external collaborator: the core classifier never
// imports this package, and this package never imports the core -- it
// only produces the []rule.Rule a caller then hands to
// classifier.Classifier.Build.
package rulesource

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"fisclass/pkg/interval"
	"fisclass/pkg/rule"
)

// schema is applied by Open so a freshly created database file is ready
// to accept rule rows without a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id            INTEGER PRIMARY KEY,
	cost          INTEGER NOT NULL,
	bidirectional INTEGER NOT NULL DEFAULT 0,
	action        TEXT
);

CREATE TABLE IF NOT EXISTS rule_fields (
	rule_id   INTEGER NOT NULL REFERENCES rules(id),
	dim       INTEGER NOT NULL,
	direction TEXT NOT NULL CHECK (direction IN ('fwd','inv')),
	kind      TEXT NOT NULL CHECK (kind IN ('any','range','rangeset')),
	begin     INTEGER NOT NULL DEFAULT 0,
	end       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (rule_id, dim, direction)
);

CREATE TABLE IF NOT EXISTS rule_rangesets (
	rule_id   INTEGER NOT NULL REFERENCES rules(id),
	dim       INTEGER NOT NULL,
	direction TEXT NOT NULL CHECK (direction IN ('fwd','inv')),
	seq       INTEGER NOT NULL,
	begin     INTEGER NOT NULL,
	end       INTEGER NOT NULL,
	PRIMARY KEY (rule_id, dim, direction, seq)
);
`

// Open opens (creating if necessary) the SQLite database at path and
// ensures the rule-source schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("rulesource: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rulesource: apply schema: %w", err)
	}
	return db, nil
}

// Load reads every rule row and its per-dimension fields and returns them
// as a []rule.Rule ordered ascending by |cost|, matching the ordering
// classifier.Build requires of its input. Ties in |cost| break by id, so
// load order is deterministic across repeated Load calls against an
// unchanged database.
func Load(db *sql.DB) ([]rule.Rule, error) {
	rows, err := db.Query(`SELECT id, cost, bidirectional, action FROM rules ORDER BY ABS(cost) ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("rulesource: query rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.Rule
	idIndex := make(map[int64]int)

	for rows.Next() {
		var id int64
		var cost int64
		var bidirectional int
		var action sql.NullString
		if err := rows.Scan(&id, &cost, &bidirectional, &action); err != nil {
			return nil, fmt.Errorf("rulesource: scan rules: %w", err)
		}

		idIndex[id] = len(rules)
		r := rule.Rule{Cost: int32(cost), Bidirectional: bidirectional != 0}
		if action.Valid {
			r.Action = action.String
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadFields(db, rules, idIndex); err != nil {
		return nil, err
	}
	if err := loadRangesets(db, rules, idIndex); err != nil {
		return nil, err
	}

	return rules, nil
}

func loadFields(db *sql.DB, rules []rule.Rule, idIndex map[int64]int) error {
	rows, err := db.Query(`SELECT rule_id, dim, direction, kind, begin, end FROM rule_fields`)
	if err != nil {
		return fmt.Errorf("rulesource: query rule_fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID int64
		var dim int
		var direction, kind string
		var begin, end int64
		if err := rows.Scan(&ruleID, &dim, &direction, &kind, &begin, &end); err != nil {
			return fmt.Errorf("rulesource: scan rule_fields: %w", err)
		}

		idx, ok := idIndex[ruleID]
		if !ok || dim < 0 || dim >= rule.MaxDim {
			continue
		}

		var iv interval.Interval
		switch kind {
		case "any":
			iv = interval.MakeAnyToAny()
		case "range":
			iv = interval.MakeRange(uint32(begin), uint32(end))
		case "rangeset":
			// Populated by loadRangesets; leave as the empty (never
			// matching) set here in case the child rows are missing.
			iv = interval.MakeRangeSet(nil)
		default:
			// Corrupt discriminator: fail safe to "never matches" rather
			// than the permissive AnyToAny default.
			iv = interval.MakeRangeSet(nil)
		}

		if direction == "inv" {
			rules[idx].InverseField[dim] = iv
		} else {
			rules[idx].Field[dim] = iv
		}
	}
	return rows.Err()
}

type rangesetKey struct {
	idx int
	dim int
	dir string
}

func loadRangesets(db *sql.DB, rules []rule.Rule, idIndex map[int64]int) error {
	rows, err := db.Query(`SELECT rule_id, dim, direction, begin, end FROM rule_rangesets ORDER BY rule_id, dim, direction, seq`)
	if err != nil {
		return fmt.Errorf("rulesource: query rule_rangesets: %w", err)
	}
	defer rows.Close()

	sets := make(map[rangesetKey][]interval.Range32)
	var order []rangesetKey

	for rows.Next() {
		var ruleID int64
		var dim int
		var direction string
		var begin, end int64
		if err := rows.Scan(&ruleID, &dim, &direction, &begin, &end); err != nil {
			return fmt.Errorf("rulesource: scan rule_rangesets: %w", err)
		}

		idx, ok := idIndex[ruleID]
		if !ok || dim < 0 || dim >= rule.MaxDim {
			continue
		}

		k := rangesetKey{idx: idx, dim: dim, dir: direction}
		if _, seen := sets[k]; !seen {
			order = append(order, k)
		}
		sets[k] = append(sets[k], interval.Range32{Begin: uint32(begin), End: uint32(end)})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range order {
		iv := interval.MakeRangeSet(sets[k])
		if k.dir == "inv" {
			rules[k.idx].InverseField[k.dim] = iv
		} else {
			rules[k.idx].Field[k.dim] = iv
		}
	}
	return nil
}
