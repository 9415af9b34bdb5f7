// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
Package convert turns raw model text into a value shaped by a schema.Descriptor.

Conversion is a strict JSON decode followed, only on failure, by exactly one
lenient pass that strips markdown fences and a byte order mark, cuts the
outermost object out of surrounding prose and removes trailing commas. If the
lenient pass also fails the caller gets a ParseFailure that carries the
offending substring. Convert never panics and never returns an error value:
failures are part of the Result.

Numbers are projected onto the declared field types (integer fields become
int64, number fields float64). Strings that merely look numeric are converted
only when the field is marked coercible or the Converter allows coercion
globally.
*/
package convert
