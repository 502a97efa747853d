package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"friday/internal/domain"
)

const unrecognizedIntent = "could not recognize the command intent"

func commandStages(parser IntentParser, dispatcher Dispatcher, opts Options) []Stage {
	return []Stage{
		NewStage(StageValidate, func(sc *StageContext, w Work) (Work, error) {
			if err := Validate(domain.RequestKindCommand, w.Input); err != nil {
				return w, err
			}
			w.Source = strings.TrimSpace(w.Input)
			w.Title = commandTitle(w.Source)
			sc.Emit(100, "command accepted")
			return w, nil
		}),
		NewStage(StageParseIntent, func(sc *StageContext, w Work) (Work, error) {
			if parser == nil {
				return w, missingCapability("intent parser")
			}
			var intent Intent
			err := WithRetry(sc, opts.Retry, "intent parsing", func(ctx context.Context) error {
				var err error
				intent, err = parser.Parse(ctx, w.Source, sc.Settings())
				return err
			})
			if err != nil {
				return w, err
			}
			w.Intent = &intent
			if intent.Known() {
				sc.Emit(100, fmt.Sprintf("intent: %s %s", intent.Action, intent.Kind))
			} else {
				sc.Emit(100, unrecognizedIntent)
			}
			return w, nil
		}),
		NewStage(StageDispatch, func(sc *StageContext, w Work) (Work, error) {
			if err := sc.Checkpoint(); err != nil {
				return w, err
			}
			intent := w.Intent
			switch {
			case intent == nil || !intent.Known():
				w.Notes = append(w.Notes, unrecognizedIntent)
			case intent.Target == "":
				w.Notes = append(w.Notes, fmt.Sprintf("A %s request was recognized but no %s was found in the command.", intent.Kind, targetNoun(intent.Kind)))
			case dispatcher == nil:
				return w, missingCapability("dispatcher")
			default:
				jobID, err := dispatcher.Submit(intent.Kind, intent.Target)
				if err != nil {
					if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrUnknownKind) {
						w.Notes = append(w.Notes, "The follow-up request was rejected: "+err.Error())
						break
					}
					return w, err
				}
				w.FollowUpJobID = jobID
				w.Notes = append(w.Notes, fmt.Sprintf("Started %s job %s for %s.", intent.Kind, jobID, intent.Target))
			}
			path, err := writeArtifact(sc, "result.md", renderCommandResult(w))
			if err != nil {
				return w, err
			}
			w.Primary = path
			sc.Emit(100, w.Notes[len(w.Notes)-1])
			return w, nil
		}),
		persistStage(),
	}
}

func commandTitle(command string) string {
	const limit = 60
	title := strings.Join(strings.Fields(command), " ")
	if r := []rune(title); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return title
}

func targetNoun(kind domain.RequestKind) string {
	if kind == domain.RequestKindVideo {
		return "video link"
	}
	return "file path"
}

func renderCommandResult(w Work) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Command\n\n%s\n\n", w.Source)
	if w.Intent != nil {
		b.WriteString("## Intent\n\n")
		kind := string(w.Intent.Kind)
		if kind == "" {
			kind = "unknown"
		}
		fmt.Fprintf(&b, "- Kind: %s\n- Action: %s\n", kind, w.Intent.Action)
		if w.Intent.Target != "" {
			fmt.Fprintf(&b, "- Target: %s\n", w.Intent.Target)
		}
		fmt.Fprintf(&b, "- Parser: %s\n\n", w.Intent.Source)
	}
	if w.FollowUpJobID != "" {
		fmt.Fprintf(&b, "## Follow-up job\n\n%s\n\n", w.FollowUpJobID)
	}
	b.WriteString("## Result\n\n")
	for _, note := range w.Notes {
		fmt.Fprintf(&b, "%s\n\n", note)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
