package upstream

// Endpoints are the vendor URLs the relay talks to.
type Endpoints struct {
	ChannelURL   string
	Channels     string
	SendOTP      string
	VerifyOTP    string
	RefreshToken string
}

// DefaultEndpoints returns the production vendor URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ChannelURL:   "https://jiotvapi.media.jio.com/playback/apis/v1/geturl?langId=6",
		Channels:     "https://jiotv.data.cdn.jio.com/apis/v3.0/getMobileChannelList/get/?os=android&devicetype=phone&usertype=tvYR7NSNn7rymo3F&version=285",
		SendOTP:      "https://jiotvapi.media.jio.com/userservice/apis/v1/loginotp/send",
		VerifyOTP:    "https://jiotvapi.media.jio.com/userservice/apis/v1/loginotp/verify",
		RefreshToken: "https://auth.media.jio.com/tokenservice/apis/v1/refreshtoken?langId=6",
	}
}

// EndpointsAt roots every vendor path at base, for a vendor mirror or a test server.
func EndpointsAt(base string) Endpoints {
	return Endpoints{
		ChannelURL:   base + "/playback/apis/v1/geturl?langId=6",
		Channels:     base + "/apis/v3.0/getMobileChannelList/get/",
		SendOTP:      base + "/userservice/apis/v1/loginotp/send",
		VerifyOTP:    base + "/userservice/apis/v1/loginotp/verify",
		RefreshToken: base + "/tokenservice/apis/v1/refreshtoken?langId=6",
	}
}
