package elastic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/lode/pkg/rql"
)

func body(t *testing.T, params map[string]string) map[string]interface{} {
	t.Helper()
	stmt, err := rql.BuildStmt(params)
	require.NoError(t, err)
	b, err := Body(stmt)
	require.NoError(t, err)
	return b
}

func TestBodyMatchAll(t *testing.T) {
	b := body(t, nil)
	assert.Equal(t, map[string]interface{}{"match_all": map[string]interface{}{}}, b["query"])
}

func TestBodyTermAndRange(t *testing.T) {
	b := body(t, map[string]string{"q": "and(eq(genre,'novel'),ge(year,1950))"})

	assert.Equal(t, map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"genre": "novel"}},
				map[string]interface{}{"range": map[string]interface{}{"year": map[string]interface{}{"gte": "1950"}}},
			},
		},
	}, b["query"])
}

func TestBodyOrBecomesShould(t *testing.T) {
	b := body(t, map[string]string{"q": "or(eq(a,1),eq(b,2))"})

	boolq, ok := b["query"].(map[string]interface{})["bool"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, boolq["should"], 2)
	assert.Equal(t, 1, boolq["minimum_should_match"])
}

func TestBodyWildcardsAndNegation(t *testing.T) {
	b := body(t, map[string]string{"q": "and(sw(title,'War'),wo(title,'draft'))"})

	must := b["query"].(map[string]interface{})["bool"].(map[string]interface{})["must"].([]interface{})
	require.Len(t, must, 2)
	assert.Equal(t, map[string]interface{}{"prefix": map[string]interface{}{"title": "War"}}, must[0])
	assert.Equal(t, map[string]interface{}{
		"bool": map[string]interface{}{
			"must_not": []interface{}{
				map[string]interface{}{"wildcard": map[string]interface{}{"title": "*draft*"}},
			},
		},
	}, must[1])
}

func TestBodySearchIsFuzzyMatch(t *testing.T) {
	b := body(t, map[string]string{"q": "search(title,'war and peace')"})

	assert.Equal(t, map[string]interface{}{
		"match": map[string]interface{}{
			"title": map[string]interface{}{"query": "war and peace", "fuzziness": "AUTO"},
		},
	}, b["query"])
}

func TestBodyGeoDistance(t *testing.T) {
	b := body(t, map[string]string{"q": "miles(location,'37.77,-122.41',50)"})

	assert.Equal(t, map[string]interface{}{
		"geo_distance": map[string]interface{}{
			"distance": "50mi",
			"location": "37.77,-122.41",
		},
	}, b["query"])
}

func TestBodyPagingSortProjection(t *testing.T) {
	b := body(t, map[string]string{
		"includes": "title,year",
		"sort":     "-year",
		"page":     "2",
		"pagesize": "10",
	})

	assert.Equal(t, []string{"title", "year"}, b["_source"])
	assert.Equal(t, 10, b["size"])
	assert.Equal(t, 10, b["from"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"year": map[string]interface{}{"order": "desc"}},
	}, b["sort"])
}

func TestBodyRowCountTracksTotals(t *testing.T) {
	b := body(t, map[string]string{"rowcount": ""})
	assert.Equal(t, true, b["track_total_hits"])
}

func TestBodyRejectsComputedColumns(t *testing.T) {
	stmt, err := rql.BuildStmt(map[string]string{"q": "sum(pages,total)"})
	require.NoError(t, err)
	stmt.SetCols() // lock projection so the computed column is visible

	_, err = Body(stmt)
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 400, be.StatusCode())
}
