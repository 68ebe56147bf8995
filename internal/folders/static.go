package folders

import "context"

// FacebookPages are the fixed content streams offered for Facebook.
var FacebookPages = []Folder{
	{ID: "Reviews", Name: "Reviews"},
	{ID: "Posts", Name: "Posts"},
	{ID: "Comments", Name: "Comments"},
}

// StaticLister returns a fixed listing without calling out.
type StaticLister struct {
	Items []Folder
}

func (s StaticLister) List(context.Context, string, Query) ([]Folder, error) {
	return append([]Folder(nil), s.Items...), nil
}
