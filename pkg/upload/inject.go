package upload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFileFieldUndefined reports a file map entry that references a form
	// part which was never uploaded.
	ErrFileFieldUndefined = errors.New("file is not present in the multipart form")
	// ErrPathNotFound reports a dotted path that does not resolve to an
	// existing slot in the operations document.
	ErrPathNotFound = errors.New("path does not exist in the operations document")
	// ErrPathUnresolvable reports a path segment applied to a value that is
	// neither an object nor an array.
	ErrPathUnresolvable = errors.New("path segment cannot be resolved against a non-container value")
)

// InjectFiles grafts every uploaded file into the operations document at
// the dotted paths the file map assigns to it. A path segment that parses
// as an integer indexes an array, any other segment keys into an object.
// The slot at the final segment is only written when it currently holds
// null; a non-null value is left untouched so redundant mappings are
// idempotent. Missing files, dangling paths and out-of-range indices fail
// with named errors instead of panicking.
func InjectFiles(operations interface{}, fileMap map[string][]string, files map[string]*File) error {
	for field, paths := range fileMap {
		file, ok := files[field]
		if !ok {
			return fmt.Errorf("file for form field %q: %w", field, ErrFileFieldUndefined)
		}

		for _, path := range paths {
			if err := injectFile(operations, file, strings.Split(path, ".")); err != nil {
				return fmt.Errorf("inject %q at path %q: %w", field, path, err)
			}
		}
	}

	return nil
}

func injectFile(tree interface{}, file *File, segments []string) error {
	if len(segments) == 0 {
		return ErrPathNotFound
	}

	segment := segments[0]
	last := len(segments) == 1

	if index, err := strconv.Atoi(segment); err == nil {
		array, ok := tree.([]interface{})
		if !ok {
			return fmt.Errorf("segment %q: %w", segment, ErrPathUnresolvable)
		}
		if index < 0 || index >= len(array) {
			return fmt.Errorf("index %d out of range: %w", index, ErrPathNotFound)
		}
		if last {
			if array[index] == nil {
				array[index] = file
			}
			return nil
		}
		return injectFile(array[index], file, segments[1:])
	}

	object, ok := tree.(map[string]interface{})
	if !ok {
		return fmt.Errorf("segment %q: %w", segment, ErrPathUnresolvable)
	}
	value, exists := object[segment]
	if !exists {
		return fmt.Errorf("key %q: %w", segment, ErrPathNotFound)
	}
	if last {
		if value == nil {
			object[segment] = file
		}
		return nil
	}
	return injectFile(value, file, segments[1:])
}
