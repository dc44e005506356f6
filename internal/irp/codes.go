package irp

import "fmt"

// IoControlCode is a device-control code carried by IRP_MJ_DEVICE_CONTROL.
type IoControlCode uint32

// scardCtlCode builds a smart-card IOCTL: FILE_DEVICE_FILE_SYSTEM,
// METHOD_BUFFERED, FILE_ANY_ACCESS.
func scardCtlCode(fn uint32) IoControlCode {
	return IoControlCode(0x00090000 | fn<<2)
}

// Smart-card redirection control codes.
var (
	IoctlEstablishContext       = scardCtlCode(5)
	IoctlReleaseContext         = scardCtlCode(6)
	IoctlIsValidContext         = scardCtlCode(7)
	IoctlListReaderGroupsA      = scardCtlCode(8)
	IoctlListReaderGroupsW      = scardCtlCode(9)
	IoctlListReadersA           = scardCtlCode(10)
	IoctlListReadersW           = scardCtlCode(11)
	IoctlIntroduceReaderGroupA  = scardCtlCode(20)
	IoctlIntroduceReaderGroupW  = scardCtlCode(21)
	IoctlForgetReaderGroupA     = scardCtlCode(22)
	IoctlForgetReaderGroupW     = scardCtlCode(23)
	IoctlIntroduceReaderA       = scardCtlCode(24)
	IoctlIntroduceReaderW       = scardCtlCode(25)
	IoctlForgetReaderA          = scardCtlCode(26)
	IoctlForgetReaderW          = scardCtlCode(27)
	IoctlAddReaderToGroupA      = scardCtlCode(28)
	IoctlAddReaderToGroupW      = scardCtlCode(29)
	IoctlRemoveReaderFromGroupA = scardCtlCode(30)
	IoctlRemoveReaderFromGroupW = scardCtlCode(31)
	IoctlLocateCardsA           = scardCtlCode(38)
	IoctlLocateCardsW           = scardCtlCode(39)
	IoctlGetStatusChangeA       = scardCtlCode(40)
	IoctlGetStatusChangeW       = scardCtlCode(41)
	IoctlCancel                 = scardCtlCode(42)
	IoctlConnectA               = scardCtlCode(43)
	IoctlConnectW               = scardCtlCode(44)
	IoctlReconnect              = scardCtlCode(45)
	IoctlDisconnect             = scardCtlCode(46)
	IoctlBeginTransaction       = scardCtlCode(47)
	IoctlEndTransaction         = scardCtlCode(48)
	IoctlState                  = scardCtlCode(49)
	IoctlStatusA                = scardCtlCode(50)
	IoctlStatusW                = scardCtlCode(51)
	IoctlTransmit               = scardCtlCode(52)
	IoctlControl                = scardCtlCode(53)
	IoctlGetAttrib              = scardCtlCode(54)
	IoctlSetAttrib              = scardCtlCode(55)
	IoctlAccessStartedEvent     = scardCtlCode(56)
	IoctlReleaseStartedEvent    = scardCtlCode(57)
	IoctlLocateCardsByATRA      = scardCtlCode(58)
	IoctlLocateCardsByATRW      = scardCtlCode(59)
	IoctlReadCacheA             = scardCtlCode(60)
	IoctlReadCacheW             = scardCtlCode(61)
	IoctlWriteCacheA            = scardCtlCode(62)
	IoctlWriteCacheW            = scardCtlCode(63)
	IoctlGetTransmitCount       = scardCtlCode(64)
	IoctlGetReaderIcon          = scardCtlCode(65)
	IoctlGetDeviceTypeID        = scardCtlCode(66)
)

var ioctlNames = map[IoControlCode]string{
	IoctlEstablishContext:       "SCARD_IOCTL_ESTABLISHCONTEXT",
	IoctlReleaseContext:         "SCARD_IOCTL_RELEASECONTEXT",
	IoctlIsValidContext:         "SCARD_IOCTL_ISVALIDCONTEXT",
	IoctlListReaderGroupsA:      "SCARD_IOCTL_LISTREADERGROUPSA",
	IoctlListReaderGroupsW:      "SCARD_IOCTL_LISTREADERGROUPSW",
	IoctlListReadersA:           "SCARD_IOCTL_LISTREADERSA",
	IoctlListReadersW:           "SCARD_IOCTL_LISTREADERSW",
	IoctlIntroduceReaderGroupA:  "SCARD_IOCTL_INTRODUCEREADERGROUPA",
	IoctlIntroduceReaderGroupW:  "SCARD_IOCTL_INTRODUCEREADERGROUPW",
	IoctlForgetReaderGroupA:     "SCARD_IOCTL_FORGETREADERGROUPA",
	IoctlForgetReaderGroupW:     "SCARD_IOCTL_FORGETREADERGROUPW",
	IoctlIntroduceReaderA:       "SCARD_IOCTL_INTRODUCEREADERA",
	IoctlIntroduceReaderW:       "SCARD_IOCTL_INTRODUCEREADERW",
	IoctlForgetReaderA:          "SCARD_IOCTL_FORGETREADERA",
	IoctlForgetReaderW:          "SCARD_IOCTL_FORGETREADERW",
	IoctlAddReaderToGroupA:      "SCARD_IOCTL_ADDREADERTOGROUPA",
	IoctlAddReaderToGroupW:      "SCARD_IOCTL_ADDREADERTOGROUPW",
	IoctlRemoveReaderFromGroupA: "SCARD_IOCTL_REMOVEREADERFROMGROUPA",
	IoctlRemoveReaderFromGroupW: "SCARD_IOCTL_REMOVEREADERFROMGROUPW",
	IoctlLocateCardsA:           "SCARD_IOCTL_LOCATECARDSA",
	IoctlLocateCardsW:           "SCARD_IOCTL_LOCATECARDSW",
	IoctlGetStatusChangeA:       "SCARD_IOCTL_GETSTATUSCHANGEA",
	IoctlGetStatusChangeW:       "SCARD_IOCTL_GETSTATUSCHANGEW",
	IoctlCancel:                 "SCARD_IOCTL_CANCEL",
	IoctlConnectA:               "SCARD_IOCTL_CONNECTA",
	IoctlConnectW:               "SCARD_IOCTL_CONNECTW",
	IoctlReconnect:              "SCARD_IOCTL_RECONNECT",
	IoctlDisconnect:             "SCARD_IOCTL_DISCONNECT",
	IoctlBeginTransaction:       "SCARD_IOCTL_BEGINTRANSACTION",
	IoctlEndTransaction:         "SCARD_IOCTL_ENDTRANSACTION",
	IoctlState:                  "SCARD_IOCTL_STATE",
	IoctlStatusA:                "SCARD_IOCTL_STATUSA",
	IoctlStatusW:                "SCARD_IOCTL_STATUSW",
	IoctlTransmit:               "SCARD_IOCTL_TRANSMIT",
	IoctlControl:                "SCARD_IOCTL_CONTROL",
	IoctlGetAttrib:              "SCARD_IOCTL_GETATTRIB",
	IoctlSetAttrib:              "SCARD_IOCTL_SETATTRIB",
	IoctlAccessStartedEvent:     "SCARD_IOCTL_ACCESSSTARTEDEVENT",
	IoctlReleaseStartedEvent:    "SCARD_IOCTL_RELEASESTARTEDEVENT",
	IoctlLocateCardsByATRA:      "SCARD_IOCTL_LOCATECARDSBYATRA",
	IoctlLocateCardsByATRW:      "SCARD_IOCTL_LOCATECARDSBYATRW",
	IoctlReadCacheA:             "SCARD_IOCTL_READCACHEA",
	IoctlReadCacheW:             "SCARD_IOCTL_READCACHEW",
	IoctlWriteCacheA:            "SCARD_IOCTL_WRITECACHEA",
	IoctlWriteCacheW:            "SCARD_IOCTL_WRITECACHEW",
	IoctlGetTransmitCount:       "SCARD_IOCTL_GETTRANSMITCOUNT",
	IoctlGetReaderIcon:          "SCARD_IOCTL_GETREADERICON",
	IoctlGetDeviceTypeID:        "SCARD_IOCTL_GETDEVICETYPEID",
}

// IsSmartCard reports whether c is a known smart-card redirection code.
func (c IoControlCode) IsSmartCard() bool {
	_, ok := ioctlNames[c]
	return ok
}

// String returns the protocol name of the code, or its hex value.
func (c IoControlCode) String() string {
	if name, ok := ioctlNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(c))
}
