package contract

import (
	"encoding/json"
	"testing"

	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const userServicePact = `{
  "consumer": {"name": "web"},
  "provider": {"name": "user-service"},
  "interactions": [
    {
      "description": "A request to create a user",
      "providerState": "no users exist",
      "request": {
        "method": "post",
        "path": "/users",
        "headers": {"Content-Type": "application/json"},
        "body": {"name": "sam", "age": 30},
        "matchingRules": {
          "$.body.name": {"match": "type"}
        }
      },
      "response": {
        "status": 201,
        "headers": {"Content-Type": "application/json; charset=utf-8"},
        "body": {
          "id": 10,
          "name": "sam",
          "addresses": [{"line": "1 Street", "postcode": "AB1 2CD"}]
        },
        "matchingRules": {
          "$.headers.Content-Type": {"regex": "application/json.*"},
          "$.body.id": {"match": "integer"},
          "$.body.addresses": {"min": 1},
          "$.body.addresses[*].postcode": {"match": "regex", "regex": "[A-Z0-9 ]+"}
        }
      }
    },
    {
      "description": "A request for a missing user",
      "request": {
        "method": "GET",
        "path": "/users/42",
        "matchingRules": {"$.path": {"regex": "/users/[0-9]+"}}
      },
      "response": {"status": 404, "unknownKey": true}
    }
  ],
  "metadata": {"pactSpecification": {"version": "2.0.0"}}
}`

func TestDecodeV2Document(t *testing.T) {
	doc, err := Decode([]byte(userServicePact))
	require.NoError(t, err)

	assert.Equal(t, "web", doc.Consumer)
	assert.Equal(t, "user-service", doc.Provider)
	require.Len(t, doc.Interactions, 2)

	create := doc.Interactions[0]
	assert.Equal(t, "A request to create a user", create.Description)
	assert.Equal(t, "no users exist", create.ProviderState)
	assert.Equal(t, "POST", create.Request.Method)
	assert.Equal(t, matcher.Equal("/users"), create.Request.Path)
	assert.Equal(t, []Header{{Name: "Content-Type", Rule: matcher.Equal("application/json")}}, create.Request.Headers)
	assert.Equal(t, matcher.Object(
		matcher.Key("name", matcher.Like("sam")),
		matcher.Key("age", matcher.Equal(30)),
	), create.Request.Body)

	assert.Equal(t, 201, create.Response.Status)
	assert.Equal(t, []Header{{Name: "Content-Type", Rule: matcher.Regex("application/json.*", "application/json; charset=utf-8")}}, create.Response.Headers)
	assert.Equal(t, matcher.Object(
		matcher.Key("id", matcher.Like(10)),
		matcher.Key("name", matcher.Equal("sam")),
		matcher.Key("addresses", matcher.MinLike(1, matcher.Object(
			matcher.Key("line", matcher.Like("1 Street")),
			matcher.Key("postcode", matcher.Regex("[A-Z0-9 ]+", "AB1 2CD")),
		))),
	), create.Response.Body)

	missing := doc.Interactions[1]
	assert.Equal(t, "", missing.ProviderState)
	assert.Equal(t, matcher.Regex("/users/[0-9]+", "/users/42"), missing.Request.Path)
	assert.Equal(t, "/users/42", missing.Request.LiteralPath())
	assert.Nil(t, missing.Request.Body)
	assert.Equal(t, 404, missing.Response.Status)
	assert.Nil(t, missing.Response.Body)
}

func TestDecodeV3Document(t *testing.T) {
	data := `{
	  "consumer": {"name": "web"},
	  "provider": {"name": "orders"},
	  "interactions": [{
	    "description": "list orders",
	    "providerStates": [{"name": "orders exist", "params": {"count": 2}}],
	    "request": {
	      "method": "GET",
	      "path": "/orders/7",
	      "query": {"status": ["open", "held"]},
	      "matchingRules": {
	        "path": {"matchers": [{"match": "regex", "regex": "/orders/\\d+"}], "combine": "AND"}
	      }
	    },
	    "response": {
	      "status": 200,
	      "headers": {"X-Request-Id": "abc"},
	      "body": {"orders": [{"total": 9.99, "paid": false}]},
	      "matchingRules": {
	        "header": {"X-Request-Id": {"matchers": [{"match": "type"}]}},
	        "body": {
	          "$.orders": {"matchers": [{"match": "type", "max": 5}]},
	          "$.orders[*].total": {"matchers": [{"match": "decimal"}]}
	        }
	      }
	    }
	  }]
	}`

	doc, err := Decode([]byte(data))
	require.NoError(t, err)
	require.Len(t, doc.Interactions, 1)

	i := doc.Interactions[0]
	assert.Equal(t, "orders exist", i.ProviderState)
	assert.Equal(t, matcher.Regex(`/orders/\d+`, "/orders/7"), i.Request.Path)
	assert.Equal(t, "status=open&status=held", i.Request.Query)
	assert.Equal(t, []Header{{Name: "X-Request-Id", Rule: matcher.Like("abc")}}, i.Response.Headers)
	assert.Equal(t, matcher.Object(
		matcher.Key("orders", matcher.MaxLike(5, matcher.Object(
			matcher.Key("total", matcher.TypeOf{Kind: matcher.KindNumber, Example: json.Number("9.99")}),
			matcher.Key("paid", matcher.Like(false)),
		))),
	), i.Response.Body)
}

func TestDecodeTypeRuleCascades(t *testing.T) {
	data := `{
	  "consumer": {"name": "c"}, "provider": {"name": "p"},
	  "interactions": [{
	    "description": "d",
	    "request": {"method": "GET", "path": "/"},
	    "response": {
	      "status": 200,
	      "body": {"user": {"name": "sam", "tags": ["a"], "role": "admin"}},
	      "matchingRules": {
	        "$.body.user": {"match": "type"},
	        "$.body.user.role": {"match": "equality"}
	      }
	    }
	  }]
	}`

	doc, err := Decode([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, matcher.Object(
		matcher.Key("user", matcher.Object(
			matcher.Key("name", matcher.Like("sam")),
			matcher.Key("tags", matcher.MinLike(0, matcher.Like("a"))),
			matcher.Key("role", matcher.Equal("admin")),
		)),
	), doc.Interactions[0].Response.Body)
}

func TestDecodeParseErrors(t *testing.T) {
	interaction := func(body string) string {
		return `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [` + body + `]}`
	}
	tests := []struct {
		name string
		data string
	}{
		{name: "malformed json", data: `{"consumer": `},
		{name: "not an object", data: `[1, 2]`},
		{name: "missing consumer", data: `{"provider": {"name": "p"}}`},
		{name: "missing provider", data: `{"consumer": {"name": "c"}}`},
		{name: "interactions not array", data: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": {}}`},
		{name: "missing description", data: interaction(`{"request": {"method": "GET", "path": "/"}, "response": {"status": 200}}`)},
		{name: "missing request", data: interaction(`{"description": "d", "response": {"status": 200}}`)},
		{name: "missing response", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"}}`)},
		{name: "missing method", data: interaction(`{"description": "d", "request": {"path": "/"}, "response": {"status": 200}}`)},
		{name: "missing status", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"}, "response": {}}`)},
		{name: "unknown matcher", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"},
			"response": {"status": 200, "body": {"a": 1}, "matchingRules": {"$.body.a": {"match": "semver"}}}}`)},
		{name: "invalid regex", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/",
			"matchingRules": {"$.path": {"regex": "("}}}, "response": {"status": 200}}`)},
		{name: "array rule on empty example", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"},
			"response": {"status": 200, "body": [], "matchingRules": {"$.body": {"min": 1}}}}`)},
		{name: "fractional status", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"}, "response": {"status": 200.5}}`)},
		{name: "status out of range", data: interaction(`{"description": "d", "request": {"method": "GET", "path": "/"}, "response": {"status": 42}}`)},
		{name: "duplicate descriptions", data: interaction(
			`{"description": "d", "request": {"method": "GET", "path": "/"}, "response": {"status": 200}},
			 {"description": "d", "request": {"method": "GET", "path": "/x"}, "response": {"status": 200}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestDecodeIgnoresRulesThatAddressNothing(t *testing.T) {
	data := `{
	  "consumer": {"name": "c"}, "provider": {"name": "p"},
	  "interactions": [{
	    "description": "d",
	    "request": {"method": "GET", "path": "/"},
	    "response": {"status": 200, "body": {"a": 1},
	      "matchingRules": {"$.body.invalid.path": {"match": "type"}}}
	  }]
	}`

	doc, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, matcher.Object(matcher.Key("a", matcher.Equal(1))), doc.Interactions[0].Response.Body)
}

func TestDecodeElementRulesUnderALiteralArray(t *testing.T) {
	data := `{
	  "consumer": {"name": "c"}, "provider": {"name": "p"},
	  "interactions": [{
	    "description": "d",
	    "request": {"method": "GET", "path": "/"},
	    "response": {"status": 200, "body": {"items": [{"id": 7, "kind": "a"}]},
	      "matchingRules": {"$.body.items[*].id": {"match": "type"}}}
	  }]
	}`

	doc, err := Decode([]byte(data))
	require.NoError(t, err)

	body := doc.Interactions[0].Response.Body
	assert.Equal(t, matcher.Object(matcher.Key("items", matcher.MinLike(1, matcher.Object(
		matcher.Key("id", matcher.Like(7)),
		matcher.Key("kind", matcher.Equal("a")),
	)))), body)

	actual, err := matcher.Decode([]byte(`{"items": [{"id": 2, "kind": "a"}, {"id": 3, "kind": "a"}]}`))
	require.NoError(t, err)
	assert.Empty(t, matcher.Match(body, actual))

	actual, err = matcher.Decode([]byte(`{"items": [{"id": "2", "kind": "a"}]}`))
	require.NoError(t, err)
	mismatches := matcher.Match(body, actual)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "/items/0/id", mismatches[0].Path)
}

func sampleDocument() Document {
	return Document{
		Consumer: "web",
		Provider: "user-service",
		Interactions: []Interaction{
			{
				Description:   "create user",
				ProviderState: "no users",
				Request: ExpectedRequest{
					Method:  "POST",
					Path:    matcher.Equal("/users"),
					Query:   "dry_run=true",
					Headers: []Header{{Name: "Content-Type", Rule: matcher.Equal("application/json")}},
					Body: matcher.Object(
						matcher.Key("name", matcher.Like("sam")),
						matcher.Key("odd.key's", matcher.Equal(nil)),
					),
				},
				Response: ExpectedResponse{
					Status: 201,
					Headers: []Header{
						{Name: "Content-Type", Rule: matcher.Regex("application/json.*", "application/json")},
						{Name: "Location", Rule: matcher.Type(matcher.KindString)},
					},
					Body: matcher.Object(
						matcher.Key("id", matcher.Type(matcher.KindInteger)),
						matcher.Key("score", matcher.Type(matcher.KindNumber)),
						matcher.Key("active", matcher.Like(false)),
						matcher.Key("deleted", matcher.Type(matcher.KindNull)),
						matcher.Key("meta", matcher.Equal(map[string]interface{}{"v": 1.5})),
						matcher.Key("tags", matcher.MinLike(2, matcher.Type(matcher.KindInteger))),
						matcher.Key("friends", matcher.MaxLike(3, matcher.Object(
							matcher.Key("name", matcher.Equal("bob")),
							matcher.Key("pets", matcher.MinLike(0, matcher.Object(
								matcher.Key("kind", matcher.Regex("cat|dog", "cat")),
							))),
							matcher.Key("aliases", matcher.Equal([]interface{}{"b"})),
						))),
						matcher.Key("empty", matcher.Object()),
					),
				},
			},
			{
				Description: "get user",
				Request: ExpectedRequest{
					Method: "GET",
					Path:   matcher.Regex(`/users/\d+`, "/users/10"),
				},
				Response: ExpectedResponse{
					Status: 200,
					Body:   matcher.Equal("plain text"),
				},
			},
			{
				Description: "list users",
				Request:     ExpectedRequest{Method: "GET", Path: matcher.Equal("/users")},
				Response: ExpectedResponse{
					Status: 200,
					Body:   matcher.MinLike(1, matcher.Like("sam")),
				},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := sampleDocument()

	data, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestEncodePreservesOrder(t *testing.T) {
	data, err := Encode(sampleDocument())
	require.NoError(t, err)

	var descriptions []string
	for _, i := range gjson.GetBytes(data, "interactions").Array() {
		descriptions = append(descriptions, i.Get("description").String())
	}
	assert.Equal(t, []string{"create user", "get user", "list users"}, descriptions)

	var keys []string
	gjson.GetBytes(data, "interactions.0.response.body").ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	assert.Equal(t, []string{"id", "score", "active", "deleted", "meta", "tags", "friends", "empty"}, keys)

	assert.Equal(t, SpecificationVersion, gjson.GetBytes(data, "metadata.pactSpecification.version").String())
	assert.Equal(t, "integer", gjson.GetBytes(data, `interactions.0.response.matchingRules.$\.body\.id.match`).String())
}

func TestEncodeRejectsInvalidDocuments(t *testing.T) {
	doc := sampleDocument()
	doc.Interactions = append(doc.Interactions, doc.Interactions[0])

	_, err := Encode(doc)
	assert.Error(t, err)

	_, err = Encode(Document{Provider: "p"})
	assert.Error(t, err)

	_, err = Encode(Document{Consumer: "c", Provider: "p", Interactions: []Interaction{{
		Description: "d",
		Request:     ExpectedRequest{Method: "GET", Path: matcher.Type(matcher.KindInteger)},
		Response:    ExpectedResponse{Status: 200},
	}}})
	assert.Error(t, err)
}
