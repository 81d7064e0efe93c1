package proto

func NewRequest(resource, slice uint32) Message {
	return Message{
		Kind:     Request,
		Resource: resource,
		Slice:    slice,
	}
}

// NewResponse answers req with one slice of the resource and the resource's slice count.
func NewResponse(req Message, body []byte, total uint32) Message {
	return Message{
		Kind:     Response,
		Resource: req.Resource,
		Slice:    req.Slice,
		total:    total,
		Body:     body,
	}
}

// Matches reports whether res is the answer to req.
func Matches(req, res Message) bool {
	return req.Kind == Request && res.Kind == Response &&
		req.Resource == res.Resource &&
		req.Slice == res.Slice
}
