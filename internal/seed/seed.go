// Package seed loads the default roles, permission catalog and accounts.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

//go:embed default.yaml
var defaultData []byte

type Data struct {
	Roles       []Role       `yaml:"roles"`
	Permissions []Permission `yaml:"permissions"`
	Users       []User       `yaml:"users"`
}

type Role struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	IsSystem    bool   `yaml:"system"`
	IsAdmin     bool   `yaml:"admin"`
	IsDefault   bool   `yaml:"default"`
}

type Permission struct {
	Route  string   `yaml:"route"`
	Method string   `yaml:"method"`
	Roles  []string `yaml:"roles"`
}

type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// Report counts rows created by a Seed run.
type Report struct {
	Roles       int
	Permissions int
	Users       int
}

// Default returns the embedded default data set.
func Default() (Data, error) {
	return Parse(defaultData)
}

// Parse decodes a YAML data set.
func Parse(raw []byte) (Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("parse seed data: %w", err)
	}
	return d, nil
}

// Seed creates every role, permission and user of d that does not exist yet.
// Existing rows are matched by natural key and left untouched.
func Seed(ctx context.Context, svc *auth.RBACService, d Data) (Report, error) {
	var rep Report
	roleIDs := make(map[string]string, len(d.Roles))

	for _, r := range d.Roles {
		role, err := svc.GetRoleByName(ctx, r.Name)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrNotFound):
			role, err = svc.CreateRole(ctx, auth.RoleInput{
				Name:        r.Name,
				Description: r.Description,
				IsSystem:    r.IsSystem,
				IsAdmin:     r.IsAdmin,
				IsDefault:   r.IsDefault,
			})
			if err != nil {
				return rep, fmt.Errorf("seed role %s: %w", r.Name, err)
			}
			rep.Roles++
		default:
			return rep, fmt.Errorf("seed role %s: %w", r.Name, err)
		}
		roleIDs[r.Name] = role.ID
	}

	for _, p := range d.Permissions {
		_, err := svc.FindPermission(ctx, p.Route, p.Method)
		if err == nil {
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return rep, fmt.Errorf("seed permission %s %s: %w", p.Method, p.Route, err)
		}
		ids, err := lookupRoles(ctx, svc, roleIDs, p.Roles)
		if err != nil {
			return rep, fmt.Errorf("seed permission %s %s: %w", p.Method, p.Route, err)
		}
		if _, err := svc.CreatePermission(ctx, auth.PermissionInput{RoutePattern: p.Route, Method: p.Method, RoleIDs: ids}); err != nil {
			return rep, fmt.Errorf("seed permission %s %s: %w", p.Method, p.Route, err)
		}
		rep.Permissions++
	}

	for _, u := range d.Users {
		_, err := svc.GetUserByEmail(ctx, u.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return rep, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		ids, err := lookupRoles(ctx, svc, roleIDs, []string{u.Role})
		if err != nil {
			return rep, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		if _, err := svc.CreateUser(ctx, u.Email, u.Password, ids[0]); err != nil {
			return rep, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		rep.Users++
	}

	obs.Logger().Info("default data seeded",
		zap.Int("roles", rep.Roles),
		zap.Int("permissions", rep.Permissions),
		zap.Int("users", rep.Users))
	return rep, nil
}

func lookupRoles(ctx context.Context, svc *auth.RBACService, known map[string]string, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := known[name]; ok {
			out = append(out, id)
			continue
		}
		id, err := svc.GetRoleIDByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
		known[name] = id
		out = append(out, id)
	}
	return out, nil
}
