package engine

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// DiffTags compares desired tags with the current tag set and returns the
// tags to create or overwrite and the keys to delete. Keys are only deleted
// when purge is set; changed values are always rewritten.
func DiffTags(desired, current map[string]string, purge bool) (toSet map[string]string, toRemove []string) {
	toSet = make(map[string]string)

	for k, v := range desired {
		if cur, ok := current[k]; !ok || cur != v {
			toSet[k] = v
		}
	}
	if purge {
		for k := range current {
			if _, ok := desired[k]; !ok {
				toRemove = append(toRemove, k)
			}
		}
		sort.Strings(toRemove)
	}
	return toSet, toRemove
}

// TagsFromEC2 converts a wire tag list into a map.
func TagsFromEC2(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// TagsToEC2 converts a tag map into a wire tag list, sorted by key so call
// payloads are deterministic.
func TagsToEC2(tags map[string]string) []ec2types.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
