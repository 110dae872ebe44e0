package render

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/mark3labs/openapi2docx/internal/enrich"
)

// job is one fragment plus the field its replacement is written to.
type job struct {
	fragment enrich.Fragment
	target   *string
}

func (r *Renderer) collect(views []*operationView) []job {
	var jobs []job
	full := r.s.level == LevelFull
	lang := r.s.targetLanguage
	for _, v := range views {
		op := v.op
		where := op.Method.Upper() + " " + op.Path
		if utf8.RuneCountInString(strings.TrimSpace(op.Description)) < r.s.shortLength {
			jobs = append(jobs, job{
				fragment: enrich.Fragment{Task: enrich.TaskImprove, Text: v.intro, Context: where + ": " + v.summary},
				target:   &v.intro,
			})
		} else if full && enrich.NeedsTranslation(v.intro, lang) {
			jobs = append(jobs, job{
				fragment: enrich.Fragment{Task: enrich.TaskTranslate, Text: v.intro, Context: where},
				target:   &v.intro,
			})
		}
		if full && enrich.NeedsTranslation(v.summary, lang) {
			jobs = append(jobs, job{
				fragment: enrich.Fragment{Task: enrich.TaskTranslate, Text: v.summary, Context: where},
				target:   &v.summary,
			})
		}
		for _, rows := range [][]*row{v.parameters, v.fields} {
			for _, rw := range rows {
				switch {
				case strings.TrimSpace(rw.description) == "":
					jobs = append(jobs, job{
						fragment: enrich.Fragment{Task: enrich.TaskGenerate, Context: rw.name + " (" + rw.typ + "), " + where},
						target:   &rw.description,
					})
				case full && enrich.NeedsTranslation(rw.description, lang):
					jobs = append(jobs, job{
						fragment: enrich.Fragment{Task: enrich.TaskTranslate, Text: rw.description, Context: rw.name},
						target:   &rw.description,
					})
				}
			}
		}
	}
	return jobs
}

// enhance sends each fragment in its own adapter call, at most concurrency at
// a time, then applies the replacements in fragment order. An unavailable
// result leaves its field untouched.
func (r *Renderer) enhance(ctx context.Context, documentID string, views []*operationView) error {
	jobs := r.collect(views)
	if len(jobs) == 0 {
		return nil
	}
	results := make([]enrich.Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.s.concurrency)
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			req := enrich.Request{
				Model:      r.s.model,
				MaxTokens:  r.s.maxTokens,
				DocumentID: documentID,
				Fragments:  []enrich.Fragment{jobs[i].fragment},
			}
			results[i] = r.s.adapter.Enrich(ctx, req).Conform(req)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	applied := 0
	for i, j := range jobs {
		texts, ok := results[i].Texts()
		if ok && strings.TrimSpace(texts[0]) != "" {
			*j.target = enrich.Flatten(texts[0])
			applied++
			continue
		}
		err := results[i].Err()
		if ok {
			err = enrich.ErrUnavailable
		}
		if r.s.onFallback != nil {
			r.s.onFallback(j.fragment.Task, err)
		}
	}
	r.s.logger.Debug("enrichment applied", "fragments", len(jobs), "applied", applied)
	return nil
}
