package pptx

import (
	"encoding/xml"
	"strings"
)

type xmlPresentation struct {
	SlideSize xmlSize      `xml:"sldSz"`
	SlideIDs  []xmlSlideID `xml:"sldIdLst>sldId"`
}

// Only r:id is read; an unqualified id field would also match r:id.
type xmlSlideID struct {
	RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

type xmlRelationships struct {
	Items []xmlRelationship `xml:"Relationship"`
}

type xmlRelationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// xmlSlide covers slides, layouts and masters; all three carry a cSld/spTree.
type xmlSlide struct {
	Show *bool        `xml:"show,attr"`
	Tree xmlShapeTree `xml:"cSld>spTree"`
}

type xmlPoint struct {
	X int64 `xml:"x,attr"`
	Y int64 `xml:"y,attr"`
}

type xmlSize struct {
	CX int64 `xml:"cx,attr"`
	CY int64 `xml:"cy,attr"`
}

type xmlXfrm struct {
	Off   *xmlPoint `xml:"off"`
	Ext   *xmlSize  `xml:"ext"`
	ChOff *xmlPoint `xml:"chOff"`
	ChExt *xmlSize  `xml:"chExt"`
}

type xmlNvPr struct {
	ID    int    `xml:"id,attr"`
	Name  string `xml:"name,attr"`
	Descr string `xml:"descr,attr"`
	Title string `xml:"title,attr"`
}

type xmlPlaceholder struct {
	Type string `xml:"type,attr"`
	Idx  *int   `xml:"idx,attr"`
}

type xmlSp struct {
	NvPr   xmlNvPr         `xml:"nvSpPr>cNvPr"`
	Ph     *xmlPlaceholder `xml:"nvSpPr>nvPr>ph"`
	Xfrm   *xmlXfrm        `xml:"spPr>xfrm"`
	TxBody *xmlTxBody      `xml:"txBody"`
}

type xmlPic struct {
	NvPr xmlNvPr         `xml:"nvPicPr>cNvPr"`
	Ph   *xmlPlaceholder `xml:"nvPicPr>nvPr>ph"`
	Blip struct {
		Embed string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships embed,attr"`
	} `xml:"blipFill>blip"`
	Xfrm *xmlXfrm `xml:"spPr>xfrm"`
}

type xmlGraphicFrame struct {
	NvPr xmlNvPr         `xml:"nvGraphicFramePr>cNvPr"`
	Ph   *xmlPlaceholder `xml:"nvGraphicFramePr>nvPr>ph"`
	Xfrm *xmlXfrm        `xml:"xfrm"`
	Data struct {
		URI   string    `xml:"uri,attr"`
		Table *xmlTable `xml:"tbl"`
		Chart *struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"chart"`
	} `xml:"graphic>graphicData"`
}

type xmlTable struct {
	Cols []struct {
		W int64 `xml:"w,attr"`
	} `xml:"tblGrid>gridCol"`
	Rows []xmlTableRow `xml:"tr"`
}

type xmlTableRow struct {
	H     int64          `xml:"h,attr"`
	Cells []xmlTableCell `xml:"tc"`
}

type xmlTableCell struct {
	GridSpan int        `xml:"gridSpan,attr"`
	RowSpan  int        `xml:"rowSpan,attr"`
	HMerge   bool       `xml:"hMerge,attr"`
	VMerge   bool       `xml:"vMerge,attr"`
	TxBody   *xmlTxBody `xml:"txBody"`
}

type xmlChartSpace struct {
	Title *struct {
		Rich *xmlTxBody `xml:"tx>rich"`
	} `xml:"chart>title"`
}

type xmlTxBody struct {
	BodyPr struct {
		Anchor string `xml:"anchor,attr"`
	} `xml:"bodyPr"`
	Paragraphs []xmlParagraph `xml:"p"`
}

type xmlParagraphProps struct {
	Align       string `xml:"algn,attr"`
	LineSpacing *struct {
		Percent *struct {
			Val int `xml:"val,attr"`
		} `xml:"spcPct"`
	} `xml:"lnSpc"`
}

type xmlRunProps struct {
	Size   int    `xml:"sz,attr"`
	Bold   string `xml:"b,attr"`
	Italic string `xml:"i,attr"`
	Latin  *struct {
		Typeface string `xml:"typeface,attr"`
	} `xml:"latin"`
	SolidFill *struct {
		RGB *struct {
			Val string `xml:"val,attr"`
		} `xml:"srgbClr"`
	} `xml:"solidFill"`
}

type xmlRun struct {
	Props *xmlRunProps
	Text  string
}

// xmlParagraph keeps runs, fields and breaks in document order.
type xmlParagraph struct {
	Props *xmlParagraphProps
	Runs  []xmlRun
}

func (p *xmlParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "pPr":
				var props xmlParagraphProps
				if err := d.DecodeElement(&props, &el); err != nil {
					return err
				}
				p.Props = &props
			case "r", "fld":
				var r struct {
					Props *xmlRunProps `xml:"rPr"`
					Text  string       `xml:"t"`
				}
				if err := d.DecodeElement(&r, &el); err != nil {
					return err
				}
				p.Runs = append(p.Runs, xmlRun{Props: r.Props, Text: r.Text})
			case "br":
				p.Runs = append(p.Runs, xmlRun{Text: "\n"})
				if err := d.Skip(); err != nil {
					return err
				}
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

type xmlTreeItem struct {
	Shape        *xmlSp
	Picture      *xmlPic
	GraphicFrame *xmlGraphicFrame
	Group        *xmlShapeTree
}

// xmlShapeTree is an spTree or a grpSp. Children are kept in z-order.
type xmlShapeTree struct {
	NvPr  xmlNvPr
	Xfrm  *xmlXfrm
	Items []xmlTreeItem
}

func (t *xmlShapeTree) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var err error
			switch el.Name.Local {
			case "nvGrpSpPr":
				var nv struct {
					NvPr xmlNvPr `xml:"cNvPr"`
				}
				err = d.DecodeElement(&nv, &el)
				t.NvPr = nv.NvPr
			case "grpSpPr":
				var pr struct {
					Xfrm *xmlXfrm `xml:"xfrm"`
				}
				err = d.DecodeElement(&pr, &el)
				t.Xfrm = pr.Xfrm
			case "sp":
				var sp xmlSp
				err = d.DecodeElement(&sp, &el)
				t.Items = append(t.Items, xmlTreeItem{Shape: &sp})
			case "pic":
				var pic xmlPic
				err = d.DecodeElement(&pic, &el)
				t.Items = append(t.Items, xmlTreeItem{Picture: &pic})
			case "graphicFrame":
				var gf xmlGraphicFrame
				err = d.DecodeElement(&gf, &el)
				t.Items = append(t.Items, xmlTreeItem{GraphicFrame: &gf})
			case "grpSp":
				var grp xmlShapeTree
				err = d.DecodeElement(&grp, &el)
				t.Items = append(t.Items, xmlTreeItem{Group: &grp})
			default:
				err = d.Skip()
			}
			if err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func xmlBool(v string) *bool {
	switch strings.ToLower(v) {
	case "1", "true", "on":
		b := true
		return &b
	case "0", "false", "off":
		b := false
		return &b
	default:
		return nil
	}
}
