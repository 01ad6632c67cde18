// Package sut is a small in-process "items" REST API used as a system under
// test. Every evaluation starts from an empty store, executes the actions of
// an individual in order and scores a fixed set of branch targets with
// branch-distance heuristics.
package sut

import (
	"mioforge/internal/gene"
	"mioforge/internal/model"
)

const (
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	maxID     = 1 << 16
)

// Catalogue returns fresh, unrandomized action templates for the API.
func Catalogue() ([]*model.Action, error) {
	var (
		out      []*model.Action
		paramErr error
	)
	add := func(verb, path string, setup bool, params ...*model.Param) error {
		if paramErr != nil {
			return paramErr
		}
		a, err := model.NewAction(model.RESTKind{}, model.Identity{Scope: verb, Operation: path}, setup, params...)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	}
	param := func(name string, loc model.Location, g gene.Gene) *model.Param {
		p, err := model.NewParam(name, loc, g)
		if err != nil && paramErr == nil {
			paramErr = err
		}
		return p
	}
	idParam := func(loc model.Location) *model.Param {
		return param("id", loc, gene.NewInteger("id", 1, maxID))
	}

	steps := []func() error{
		func() error { return add("POST", "/reset", true) },
		func() error {
			body := gene.NewObject("body",
				gene.NewString("name", 1, 8, lowercase).WithExamples("apple", "pear"),
				gene.NewInteger("price", 0, 1000),
				gene.NewEnum("category", "book", "food", "tool"),
			)
			return add("POST", "/items", false, param("body", model.LocationBody, body), idParam(model.LocationResponse))
		},
		func() error { return add("GET", "/items/{id}", false, idParam(model.LocationPath)) },
		func() error {
			body := gene.NewObject("body", gene.NewInteger("price", 0, 1000))
			return add("PUT", "/items/{id}", false, idParam(model.LocationPath), param("body", model.LocationBody, body))
		},
		func() error { return add("DELETE", "/items/{id}", false, idParam(model.LocationPath)) },
		func() error {
			return add("GET", "/items", false,
				param("limit", model.LocationQuery, gene.NewInteger("limit", 0, 100)),
				param("name", model.LocationQuery, gene.NewOptional("name", gene.NewString("name", 1, 8, lowercase))),
			)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Targets lists every target the API reports, in a fixed order.
func Targets() []string {
	return append([]string(nil), targets...)
}

const (
	targetCreated       = "POST /items:201"
	targetExpensive     = "POST /items:expensive"
	targetDuplicate     = "POST /items:409"
	targetFound         = "GET /items/{id}:200"
	targetNotFound      = "GET /items/{id}:404"
	targetUpdated       = "PUT /items/{id}:200"
	targetUpdateMissing = "PUT /items/{id}:404"
	targetDiscount      = "PUT /items/{id}:discount"
	targetDeleted       = "DELETE /items/{id}:204"
	targetDeleteMissing = "DELETE /items/{id}:404"
	targetListed        = "GET /items:200"
	targetFiltered      = "GET /items:filtered"
	faultEmptyPage      = "fault:GET /items:500"
	faultStaleRead      = "fault:GET /items/{id}:500"
)

var targets = []string{
	targetCreated, targetExpensive, targetDuplicate,
	targetFound, targetNotFound,
	targetUpdated, targetUpdateMissing, targetDiscount,
	targetDeleted, targetDeleteMissing,
	targetListed, targetFiltered,
	faultEmptyPage, faultStaleRead,
}
