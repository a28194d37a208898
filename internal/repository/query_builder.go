package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var errNoRowsAffected = errors.New("no rows affected")

// Condition is one WHERE predicate of a dynamic filter.
type Condition struct {
	Field    string // Column name
	Operator string // =, !=, >, <, >=, <=, LIKE, ANY, BETWEEN, IS_NULL, IS_NOT_NULL
	Value    any    // single value, []string for ANY, []any{min, max} for BETWEEN
	Logic    string // AND or OR, joins to the next condition
}

// QueryBuilder appends a parameterized WHERE / ORDER BY / LIMIT to a template query.
type QueryBuilder struct {
	TemplateQuery string
	Conditions    []Condition
	OrderBy       []string // e.g. []string{"created_at DESC"}
	Limit         int
}

// BuildQueryDynamicFilter creates a dynamic query with $n placeholders
func (qb *QueryBuilder) BuildQueryDynamicFilter() (string, []any, error) {
	if qb.TemplateQuery == "" {
		return "", nil, fmt.Errorf("template query is required")
	}

	query := qb.TemplateQuery
	args := []any{}
	paramIndex := 1

	if len(qb.Conditions) > 0 {
		whereParts := []string{}

		for i, cond := range qb.Conditions {
			var condStr string

			switch strings.ToUpper(cond.Operator) {
			case "=", "!=", ">", "<", ">=", "<=":
				condStr = fmt.Sprintf("%s %s $%d", cond.Field, cond.Operator, paramIndex)
				args = append(args, cond.Value)
				paramIndex++

			case "LIKE":
				condStr = fmt.Sprintf("%s LIKE $%d", cond.Field, paramIndex)
				args = append(args, cond.Value)
				paramIndex++

			case "ANY":
				values, ok := cond.Value.([]string)
				if !ok {
					return "", nil, fmt.Errorf("ANY operator requires []string value for field %s", cond.Field)
				}
				if len(values) == 0 {
					return "", nil, fmt.Errorf("ANY operator requires at least one value for field %s", cond.Field)
				}
				condStr = fmt.Sprintf("%s = ANY($%d)", cond.Field, paramIndex)
				args = append(args, pq.Array(values))
				paramIndex++

			case "BETWEEN":
				values, ok := cond.Value.([]any)
				if !ok || len(values) != 2 {
					return "", nil, fmt.Errorf("BETWEEN operator requires []any{min, max} for field %s", cond.Field)
				}
				condStr = fmt.Sprintf("%s BETWEEN $%d AND $%d", cond.Field, paramIndex, paramIndex+1)
				args = append(args, values[0], values[1])
				paramIndex += 2

			case "IS_NULL":
				condStr = fmt.Sprintf("%s IS NULL", cond.Field)

			case "IS_NOT_NULL":
				condStr = fmt.Sprintf("%s IS NOT NULL", cond.Field)

			default:
				return "", nil, fmt.Errorf("unsupported operator: %s", cond.Operator)
			}

			whereParts = append(whereParts, condStr)

			if i < len(qb.Conditions)-1 {
				logic := strings.ToUpper(strings.TrimSpace(cond.Logic))
				if logic == "" {
					logic = "AND"
				}
				if logic != "AND" && logic != "OR" {
					return "", nil, fmt.Errorf("invalid logic operator: %s (must be AND or OR)", cond.Logic)
				}
				whereParts = append(whereParts, logic)
			}
		}

		query += " WHERE " + strings.Join(whereParts, " ")
	}

	if len(qb.OrderBy) > 0 {
		validOrders := []string{}
		for _, order := range qb.OrderBy {
			parts := strings.Fields(order)
			switch len(parts) {
			case 0:
				continue
			case 1:
				validOrders = append(validOrders, parts[0]+" ASC")
			case 2:
				dir := strings.ToUpper(parts[1])
				if dir != "ASC" && dir != "DESC" {
					return "", nil, fmt.Errorf("invalid order direction: %s (must be ASC or DESC)", parts[1])
				}
				validOrders = append(validOrders, parts[0]+" "+dir)
			default:
				return "", nil, fmt.Errorf("invalid order format: %s", order)
			}
		}

		if len(validOrders) > 0 {
			query += " ORDER BY " + strings.Join(validOrders, ", ")
		}
	}

	if qb.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramIndex)
		args = append(args, qb.Limit)
	}

	return query, args, nil
}

// execWithCheck runs an UPDATE/DELETE and reports errNoRowsAffected when nothing matched.
func execWithCheck(ctx context.Context, db sqlx.ExecerContext, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return errNoRowsAffected
	}

	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
