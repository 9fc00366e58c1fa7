package letor

import "github.com/soundprediction/ordino/pkg/types"

func q(id, text string) types.Query    { return types.Query{ID: id, Text: text} }
func d(id, text string) types.Document { return types.Document{ID: id, Text: text} }
