package retry

import "context"

// DoValue is a type-safe wrapper around Retryer.Do that keeps the value of
// the successful attempt.
//
// Usage:
//
//	text, err := retry.DoValue(ctx, r, func(attempt int) (string, error) {
//	    return backend.Generate(ctx, req)
//	})
func DoValue[T any](ctx context.Context, r Retryer, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(attempt int) error {
		v, err := fn(attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
