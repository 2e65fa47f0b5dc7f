package unifiedllm

import (
	"context"
	"strings"
)

// CollectText drains a stream, passing each text fragment to onDelta as it
// arrives, and returns the fragments concatenated in arrival order. A
// StreamError event ends collection with that error.
func CollectText(ctx context.Context, events <-chan StreamEvent, onDelta func(string)) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case event, ok := <-events:
			if !ok {
				return sb.String(), nil
			}
			switch event.Type {
			case TextDelta:
				if event.Delta == "" {
					continue
				}
				sb.WriteString(event.Delta)
				if onDelta != nil {
					onDelta(event.Delta)
				}
			case StreamError:
				err := event.Error
				if err == nil {
					err = &StreamFailedError{SDKError: SDKError{Message: "stream ended with an error event"}}
				}
				return sb.String(), err
			case StreamFinish:
				// Drain until the producer closes the channel.
			}
		}
	}
}

// singleShotStream adapts a blocking completion into a stream for back-ends
// that cannot stream.
func singleShotStream(ctx context.Context, complete func(context.Context) (*Response, error)) <-chan StreamEvent {
	ch := make(chan StreamEvent, 4)
	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: StreamStart}
		resp, err := complete(ctx)
		if err != nil {
			ch <- StreamEvent{Type: StreamError, Error: err}
			return
		}
		if text := resp.Text(); text != "" {
			ch <- StreamEvent{Type: TextDelta, Delta: text}
		}
		ch <- StreamEvent{Type: StreamFinish, Response: resp}
	}()
	return ch
}

// send delivers an event unless ctx is done. It reports whether the
// consumer can still receive.
func send(ctx context.Context, ch chan<- StreamEvent, event StreamEvent) bool {
	select {
	case ch <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// primeStream reads ahead until the stream carries content or finishes. An
// error event that arrives first is returned as the open error, so a request
// the server refused is retried like a failed blocking call. Otherwise the
// returned channel replays what was read and forwards the rest.
func primeStream(ctx context.Context, events <-chan StreamEvent) (<-chan StreamEvent, error) {
	var head []StreamEvent
	for {
		select {
		case <-ctx.Done():
			go drain(events)
			return nil, &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}
		case event, ok := <-events:
			if !ok {
				return replay(ctx, head, nil), nil
			}
			switch event.Type {
			case StreamStart:
				head = append(head, event)
			case StreamError:
				go drain(events)
				if event.Error == nil {
					return nil, &StreamFailedError{SDKError: SDKError{Message: "stream ended with an error event"}}
				}
				return nil, event.Error
			default:
				return replay(ctx, append(head, event), events), nil
			}
		}
	}
}

func replay(ctx context.Context, head []StreamEvent, rest <-chan StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(head)+16)
	go func() {
		defer close(ch)
		for _, event := range head {
			if !send(ctx, ch, event) {
				drain(rest)
				return
			}
		}
		if rest == nil {
			return
		}
		for event := range rest {
			if !send(ctx, ch, event) {
				drain(rest)
				return
			}
		}
	}()
	return ch
}

// drain discards the remaining events so the producer can exit.
func drain(events <-chan StreamEvent) {
	if events == nil {
		return
	}
	for range events {
	}
}
