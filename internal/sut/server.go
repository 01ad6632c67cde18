package sut

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"mioforge/internal/fitness"
	"mioforge/internal/model"
)

type Config struct {
	// UnavailableEvery makes every n-th evaluation fail with a connection
	// error. Zero disables it.
	UnavailableEvery int
	Logger           *zap.Logger
}

// Server evaluates individuals against the items API. It satisfies
// fitness.Evaluator.
type Server struct {
	cfg         Config
	evaluations int
}

var _ fitness.Evaluator = (*Server)(nil)

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Server{cfg: cfg}
}

func (s *Server) Evaluations() int { return s.evaluations }

type item struct {
	name     string
	price    int64
	category string
}

// run is the state of one evaluation.
type run struct {
	items   map[int64]*item
	deleted map[int64]struct{}
	nextID  int64
	fitness model.FitnessVector
}

func (s *Server) Evaluate(ctx context.Context, ind *model.Individual) (*model.EvaluatedIndividual, error) {
	s.evaluations++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := s.cfg.UnavailableEvery; n > 0 && s.evaluations%n == 0 {
		return nil, fmt.Errorf("evaluation %d: %w", s.evaluations, fitness.ErrConnection)
	}
	r := &run{
		items:   make(map[int64]*item),
		deleted: make(map[int64]struct{}),
		nextID:  1,
		fitness: make(model.FitnessVector, len(targets)),
	}
	for _, t := range targets {
		r.fitness[t] = 0
	}

	sources := responseSources(ind)
	actions := ind.Actions()
	results := make([]model.ActionResult, 0, len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := make(map[string]string, len(a.Params()))
		for j, p := range a.Params() {
			if p.IsResponse() {
				continue
			}
			if src, ok := sources[[2]int{i, j}]; ok {
				values[p.Name()] = results[src.action].Values[src.param]
				continue
			}
			values[p.Name()] = p.Value()
		}
		res := r.dispatch(a.ID(), values)
		res.ActionID = a.ID()
		results = append(results, res)
		s.cfg.Logger.Debug("action executed",
			zap.String("action", a.ID()),
			zap.Int("status", res.StatusCode),
		)
	}
	return model.NewEvaluatedIndividual(ind, results, r.fitness)
}

type source struct {
	action int
	param  string
}

// responseSources maps [action, param] positions of response-bound
// dependents to the response value they read.
func responseSources(ind *model.Individual) map[[2]int]source {
	out := make(map[[2]int]source)
	for _, b := range ind.Bindings() {
		if len(b.From) < 2 || len(b.To) < 2 {
			continue
		}
		producer, err := ind.ActionAt(b.To[0])
		if err != nil {
			continue
		}
		params := producer.Params()
		if b.To[1] >= len(params) || !params[b.To[1]].IsResponse() {
			continue
		}
		out[[2]int{b.From[0], b.From[1]}] = source{action: b.To[0], param: params[b.To[1]].Name()}
	}
	return out
}

func (r *run) dispatch(id string, values map[string]string) model.ActionResult {
	switch id {
	case "POST /reset":
		r.items = make(map[int64]*item)
		return ok(200, nil)
	case "POST /items":
		return r.create(values["body"])
	case "GET /items/{id}":
		return r.get(values["id"])
	case "PUT /items/{id}":
		return r.update(values["id"], values["body"])
	case "DELETE /items/{id}":
		return r.remove(values["id"])
	case "GET /items":
		return r.list(values["limit"], values["name"])
	}
	return model.ActionResult{Status: model.StatusFailed, StatusCode: 404}
}

func (r *run) create(body string) model.ActionResult {
	var in struct {
		Name     string `json:"name"`
		Price    int64  `json:"price"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(body), &in); err != nil || in.Name == "" {
		return model.ActionResult{Status: model.StatusFailed, StatusCode: 400}
	}
	if len(r.items) > 0 {
		d := -1.0
		for _, it := range r.items {
			if dist := stringDistance(in.Name, it.name); d < 0 || dist < d {
				d = dist
			}
		}
		r.cover(targetDuplicate, d)
		if d == 0 {
			return model.ActionResult{Status: model.StatusFailed, StatusCode: 409}
		}
	}
	r.cover(targetExpensive, float64(max(0, 900-in.Price)))
	id := r.nextID
	r.nextID++
	r.items[id] = &item{name: in.Name, price: in.Price, category: in.Category}
	r.cover(targetCreated, 0)
	return ok(201, map[string]string{"id": strconv.FormatInt(id, 10)})
}

// lookup scores the distance of id to the closest live item for target.
func (r *run) lookup(raw, target string) (int64, *item) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	if it, found := r.items[id]; found {
		r.cover(target, 0)
		return id, it
	}
	if len(r.items) > 0 {
		d := -1.0
		for known := range r.items {
			if dist := absDiff(id, known); d < 0 || dist < d {
				d = dist
			}
		}
		r.cover(target, d)
	}
	return id, nil
}

func (r *run) get(raw string) model.ActionResult {
	id, it := r.lookup(raw, targetFound)
	if it != nil {
		body, _ := json.Marshal(map[string]any{"id": id, "name": it.name, "price": it.price, "category": it.category})
		return model.ActionResult{Status: model.StatusOK, StatusCode: 200, Body: string(body)}
	}
	if len(r.deleted) > 0 {
		d := -1.0
		for gone := range r.deleted {
			if dist := absDiff(id, gone); d < 0 || dist < d {
				d = dist
			}
		}
		r.cover(faultStaleRead, d)
		if d == 0 {
			return model.ActionResult{Status: model.StatusFault, StatusCode: 500, Body: "stale cache entry"}
		}
	}
	r.cover(targetNotFound, 0)
	return model.ActionResult{Status: model.StatusOK, StatusCode: 404}
}

func (r *run) update(raw, body string) model.ActionResult {
	var in struct {
		Price int64 `json:"price"`
	}
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return model.ActionResult{Status: model.StatusFailed, StatusCode: 400}
	}
	_, it := r.lookup(raw, targetUpdated)
	if it == nil {
		r.cover(targetUpdateMissing, 0)
		return model.ActionResult{Status: model.StatusOK, StatusCode: 404}
	}
	r.cover(targetDiscount, float64(max(0, in.Price-it.price/2+1)))
	it.price = in.Price
	return ok(200, nil)
}

func (r *run) remove(raw string) model.ActionResult {
	id, it := r.lookup(raw, targetDeleted)
	if it == nil {
		r.cover(targetDeleteMissing, 0)
		return model.ActionResult{Status: model.StatusOK, StatusCode: 404}
	}
	delete(r.items, id)
	r.deleted[id] = struct{}{}
	return ok(204, nil)
}

func (r *run) list(rawLimit, name string) model.ActionResult {
	limit, err := strconv.ParseInt(rawLimit, 10, 64)
	if err != nil {
		return model.ActionResult{Status: model.StatusFailed, StatusCode: 400}
	}
	r.cover(faultEmptyPage, float64(limit))
	if limit == 0 {
		return model.ActionResult{Status: model.StatusFault, StatusCode: 500, Body: "integer divide by zero"}
	}
	ids := make([]int64, 0, len(r.items))
	for id, it := range r.items {
		if name != "" {
			r.cover(targetFiltered, stringDistance(name, it.name))
			if it.name != name {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	r.cover(targetListed, 0)
	body, _ := json.Marshal(ids)
	return model.ActionResult{Status: model.StatusOK, StatusCode: 200, Body: string(body)}
}

// cover raises target to the heuristic of distance d; 0 covers it.
func (r *run) cover(target string, d float64) {
	h := 1.0
	if d > 0 {
		h = 0.5 / (1 + d)
	}
	if h > r.fitness[target] {
		r.fitness[target] = h
	}
}

func ok(code int, values map[string]string) model.ActionResult {
	return model.ActionResult{Status: model.StatusOK, StatusCode: code, Values: values}
}

func absDiff(a, b int64) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

// stringDistance is the left-aligned character distance used for string
// equality branches: per-position code point differences plus a penalty per
// missing character.
func stringDistance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	d := 0.0
	for i := 0; i < min(len(ra), len(rb)); i++ {
		d += absDiff(int64(ra[i]), int64(rb[i]))
	}
	d += 128 * float64(max(len(ra), len(rb))-min(len(ra), len(rb)))
	return d
}
