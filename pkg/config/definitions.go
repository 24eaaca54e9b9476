package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lodeworks/lode/pkg/actions"
	"github.com/lodeworks/lode/pkg/db"
	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/rqlcache"
	"github.com/lodeworks/lode/pkg/sessions"
)

// Definitions is the declarative API surface loaded from the definition file:
// which apis exist, their endpoints, the databases behind them and the stock
// actions on each scope.
type Definitions struct {
	Apis []ApiDef `yaml:"apis"`
}

// ApiDef declares one api.
type ApiDef struct {
	Name      string        `yaml:"name"`
	Base      string        `yaml:"base"`
	Databases []DatabaseDef `yaml:"databases"`
	Endpoints []EndpointDef `yaml:"endpoints"`
	Actions   []ActionDef   `yaml:"actions"`
}

// DatabaseDef declares one SQL backend and its routable collections.
type DatabaseDef struct {
	Name        string          `yaml:"name"`
	Driver      string          `yaml:"driver"`
	DSN         string          `yaml:"dsn"`
	MaxRows     int             `yaml:"maxRows"`
	Collections []CollectionDef `yaml:"collections"`
}

// CollectionDef maps a collection name onto a table. Query optionally carries
// a pre-authored base statement; ${name} placeholders resolve from request
// params at read time.
type CollectionDef struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	Query string `yaml:"query"`
}

// EndpointDef declares one endpoint.
type EndpointDef struct {
	Name     string            `yaml:"name"`
	Methods  string            `yaml:"methods"`
	Base     string            `yaml:"base"`
	Includes []string          `yaml:"includes"`
	Excludes []string          `yaml:"excludes"`
	Internal bool              `yaml:"internal"`
	Config   map[string]string `yaml:"config"`
	Actions  []ActionDef       `yaml:"actions"`
}

// ActionDef declares one stock action. Type selects the action; the remaining
// fields apply to the types that use them.
type ActionDef struct {
	Type    string            `yaml:"type"`
	Order   int               `yaml:"order"`
	Methods string            `yaml:"methods"`
	Config  map[string]string `yaml:"config"`

	// auth
	Scheme    string `yaml:"scheme"`   // "bearer" or "apikey"
	Location  string `yaml:"location"` // "header" or "query" for apikey
	ParamName string `yaml:"paramName"`

	// acl
	Roles       []string `yaml:"roles"`
	Permissions []string `yaml:"permissions"`

	// require-param
	Param string `yaml:"param"`

	// redirect
	Location308 string `yaml:"to"`
}

// LoadDefinitions reads and parses the definition file.
func LoadDefinitions(path string) (*Definitions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions %q: %w", path, err)
	}
	return ParseDefinitions(raw)
}

// ParseDefinitions parses a definition document.
func ParseDefinitions(raw []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parsing definitions: %w", err)
	}
	if len(defs.Apis) == 0 {
		return nil, fmt.Errorf("definitions declare no apis")
	}
	for _, api := range defs.Apis {
		if api.Base == "" {
			return nil, fmt.Errorf("api %q has no base path", api.Name)
		}
	}
	return &defs, nil
}

// Builder turns definitions into live apis, holding the shared collaborators
// the stock actions need.
type Builder struct {
	Store sessions.Store
	Cache *rqlcache.Cache

	// MaxRows caps the row window of databases whose definition does not set
	// its own cap. Zero leaves them uncapped.
	MaxRows int

	// OpenDb is swappable for tests; defaults to db.Open.
	OpenDb func(name, driver, dsn string) (*db.SqlDb, error)

	dbs []*db.SqlDb
}

// Databases returns the backends materialized by the most recent successful
// Build, for health probing and teardown.
func (b *Builder) Databases() []*db.SqlDb { return b.dbs }

// Build materializes every declared api.
func (b *Builder) Build(defs *Definitions) ([]*engine.Api, error) {
	open := b.OpenDb
	if open == nil {
		open = db.Open
	}

	var apis []*engine.Api
	var built []*db.SqlDb
	for _, apiDef := range defs.Apis {
		api, err := engine.NewApi(apiDef.Base)
		if err != nil {
			return nil, fmt.Errorf("api %q: %w", apiDef.Name, err)
		}
		if apiDef.Name != "" {
			api.Rule.Name = apiDef.Name
		}

		for _, dbDef := range apiDef.Databases {
			sqlDb, err := open(dbDef.Name, dbDef.Driver, dbDef.DSN)
			if err != nil {
				return nil, fmt.Errorf("api %q database %q: %w", apiDef.Name, dbDef.Name, err)
			}
			switch {
			case dbDef.MaxRows > 0:
				sqlDb.WithMaxRows(dbDef.MaxRows)
			case b.MaxRows > 0:
				sqlDb.WithMaxRows(b.MaxRows)
			}
			built = append(built, sqlDb)
			for _, coll := range dbDef.Collections {
				table := coll.Table
				if table == "" {
					table = coll.Name
				}
				if coll.Query != "" {
					sqlDb.WithCollectionQuery(coll.Name, table, coll.Query)
				} else {
					sqlDb.WithCollection(coll.Name, table)
				}
			}
			api.WithDb(sqlDb)
		}

		for _, actDef := range apiDef.Actions {
			act, err := b.buildAction(actDef)
			if err != nil {
				return nil, fmt.Errorf("api %q: %w", apiDef.Name, err)
			}
			api.WithAction(act)
		}

		for _, epDef := range apiDef.Endpoints {
			ep, err := engine.NewEndpoint(epDef.Name, methodsOrAll(epDef.Methods), epDef.Base, epDef.Includes...)
			if err != nil {
				return nil, fmt.Errorf("api %q endpoint %q: %w", apiDef.Name, epDef.Name, err)
			}
			if len(epDef.Excludes) > 0 {
				if _, err := ep.WithExcludePaths(epDef.Excludes...); err != nil {
					return nil, fmt.Errorf("api %q endpoint %q: %w", apiDef.Name, epDef.Name, err)
				}
			}
			ep.WithInternal(epDef.Internal)
			for k, v := range epDef.Config {
				ep.Rule.WithConfig(k, v)
			}
			for _, actDef := range epDef.Actions {
				act, err := b.buildAction(actDef)
				if err != nil {
					return nil, fmt.Errorf("api %q endpoint %q: %w", apiDef.Name, epDef.Name, err)
				}
				ep.WithAction(act)
			}
			api.WithEndpoint(ep)
		}

		apis = append(apis, api)
	}
	b.dbs = built
	return apis, nil
}

// buildAction instantiates one stock action from its definition.
func (b *Builder) buildAction(def ActionDef) (*engine.Action, error) {
	var act *engine.Action

	switch strings.ToLower(def.Type) {
	case "rest":
		if b.Cache != nil {
			act = actions.NewCachedRestAction(b.Cache)
		} else {
			act = actions.NewRestAction()
		}

	case "auth":
		if b.Store == nil {
			return nil, fmt.Errorf("auth action declared but no session store is configured")
		}
		scheme, err := parseScheme(def)
		if err != nil {
			return nil, err
		}
		act = actions.NewAuthAction(scheme, b.Store)

	case "acl":
		act = actions.NewAclAction(def.Roles, def.Permissions)

	case "require-param":
		if def.Param == "" {
			return nil, fmt.Errorf("require-param action needs a param name")
		}
		act = actions.NewRequireParamAction(def.Param)

	case "redirect":
		if def.Location308 == "" {
			return nil, fmt.Errorf("redirect action needs a target")
		}
		act = actions.NewRedirectAction(def.Location308)

	case "access-log":
		act = actions.NewLogAction(nil)

	default:
		return nil, fmt.Errorf("unknown action type %q", def.Type)
	}

	if def.Order != 0 {
		act.WithOrder(def.Order)
	}
	if def.Methods != "" {
		act.WithMethods(strings.Split(def.Methods, ",")...)
	}
	for k, v := range def.Config {
		act.WithConfig(k, v)
	}
	return act, nil
}

func parseScheme(def ActionDef) (actions.Scheme, error) {
	switch strings.ToLower(def.Scheme) {
	case "", "bearer":
		return actions.Scheme{Kind: actions.SchemeBearer}, nil
	case "apikey":
		location := def.Location
		if location == "" {
			location = "header"
		}
		if def.ParamName == "" {
			return actions.Scheme{}, fmt.Errorf("apikey scheme needs a paramName")
		}
		return actions.Scheme{Kind: actions.SchemeApiKey, Location: location, ParamName: def.ParamName}, nil
	}
	return actions.Scheme{}, fmt.Errorf("unknown auth scheme %q", def.Scheme)
}

func methodsOrAll(methods string) string {
	if methods == "" {
		return "*"
	}
	return methods
}
