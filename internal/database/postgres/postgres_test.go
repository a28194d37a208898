package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	schema := `
-- advisory rules
CREATE TABLE a (id INT);

-- comment only;
CREATE INDEX idx_a ON a(id);
   ;
`
	statements := SplitStatements(schema)

	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX idx_a ON a(id)"}, statements)
}
