package envelope

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/anypb"
)

// ToolResultTypeURL tags the well-known result shape servers produce when
// a tool returns structured content rather than a value of its own
// output type.
const ToolResultTypeURL = "dtcp.dev/types/dtcp.v1.ToolResult"

// ToolContent is one item of a tool result: text or raw bytes.
type ToolContent struct {
	Type string
	Text string
	Data []byte
}

// ToolResult is the well-known result shape.
type ToolResult struct {
	Content []*ToolContent
}

// PackToolResult wraps a result in a tagged opaque value.
func PackToolResult(res *ToolResult) *anypb.Any {
	var b []byte
	for _, c := range res.Content {
		b = appendMessage(b, 1, marshalToolContent(c))
	}
	return &anypb.Any{TypeUrl: ToolResultTypeURL, Value: b}
}

// UnpackToolResult decodes a tagged value carrying the well-known result
// shape. The type URL's final segment must name dtcp.v1.ToolResult.
func UnpackToolResult(a *anypb.Any) (*ToolResult, error) {
	parts := strings.Split(a.TypeUrl, "/")
	if parts[len(parts)-1] != "dtcp.v1.ToolResult" {
		return nil, fmt.Errorf("tagged value is %s, not a tool result", a.TypeUrl)
	}
	res := &ToolResult{}
	err := eachField(a.Value, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == 1 {
			c, err := unmarshalToolContent(val)
			if err != nil {
				return err
			}
			res.Content = append(res.Content, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func marshalToolContent(c *ToolContent) []byte {
	var b []byte
	b = appendString(b, 1, c.Type)
	b = appendString(b, 2, c.Text)
	if len(c.Data) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Data)
	}
	return b
}

func unmarshalToolContent(data []byte) (*ToolContent, error) {
	c := &ToolContent{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			c.Type = string(val)
		case 2:
			c.Text = string(val)
		case 3:
			c.Data = append([]byte(nil), val...)
		}
		return nil
	})
	return c, err
}
